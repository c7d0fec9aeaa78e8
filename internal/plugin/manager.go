package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"batchable/internal/batcher"
)

// DefaultExecutionTimeout is the default timeout for plugin execution
const DefaultExecutionTimeout = 30 * time.Second

// handlerDirectiveRegex matches @handler directive in comments
var handlerDirectiveRegex = regexp.MustCompile(`(?m)^//\s*@handler\s+(\S+)`)

// PluginManager manages JavaScript plugins
type PluginManager struct {
	plugins map[string]*Plugin // handler -> plugin
	logger  zerolog.Logger
	timeout time.Duration
	mu      sync.RWMutex
}

// NewPluginManager creates a new PluginManager
func NewPluginManager(logger zerolog.Logger) *PluginManager {
	return &PluginManager{
		plugins: make(map[string]*Plugin),
		logger:  logger.With().Str("component", "plugin-manager").Logger(),
		timeout: DefaultExecutionTimeout,
	}
}

// SetTimeout sets the execution timeout for plugins
func (m *PluginManager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// LoadFromDirectory loads all .js plugins from a directory
func (m *PluginManager) LoadFromDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("plugins directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat plugins directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("plugins path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		pluginPath := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(pluginPath)
		if err != nil {
			m.logger.Error().Err(err).Str("file", entry.Name()).Msg("failed to read plugin file")
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".js")
		if err := m.LoadScript(name, string(content)); err != nil {
			m.logger.Error().
				Err(err).
				Str("file", entry.Name()).
				Msg("failed to load plugin")
			continue
		}
		loadedCount++
	}

	m.logger.Info().
		Int("loaded", loadedCount).
		Str("directory", dir).
		Msg("plugins loaded")

	return nil
}

// LoadScript registers a plugin from source. The script must carry a
// @handler directive and compile.
func (m *PluginManager) LoadScript(name, script string) error {
	handler := extractHandlerDirective(script)
	if handler == "" {
		return fmt.Errorf("plugin missing @handler directive")
	}

	if _, err := goja.Compile(name, script, false); err != nil {
		return fmt.Errorf("failed to compile plugin: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[handler]; exists {
		return fmt.Errorf("duplicate handler: %s", handler)
	}

	m.plugins[handler] = &Plugin{
		Name:    name,
		Handler: handler,
		Script:  script,
	}

	m.logger.Info().
		Str("name", name).
		Str("handler", handler).
		Msg("plugin loaded")

	return nil
}

// extractHandlerDirective extracts the handler name from @handler directive
func extractHandlerDirective(script string) string {
	matches := handlerDirectiveRegex.FindStringSubmatch(script)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// Has checks if a plugin exists for the given handler
func (m *PluginManager) Has(handler string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.plugins[handler]
	return exists
}

// Execute runs the plugin for handler with the items of batch
func (m *PluginManager) Execute(ctx context.Context, handler string, batch *batcher.Batch) error {
	m.mu.RLock()
	plugin, exists := m.plugins[handler]
	m.mu.RUnlock()

	if !exists {
		return NewPluginError(ErrCodePluginNotFound, fmt.Sprintf("plugin not found for handler %s", handler))
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	// New runtime per execution, goja runtimes are not goroutine safe
	runtime := NewRuntime(m.logger.With().Str("plugin", plugin.Name).Logger())

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- m.executePlugin(runtime, plugin, batch)
	}()

	select {
	case <-execCtx.Done():
		runtime.VM().Interrupt("execution cancelled")
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			m.logger.Warn().
				Str("handler", handler).
				Dur("timeout", m.timeout).
				Msg("plugin execution timed out")
			return NewPluginError(ErrCodePluginTimeout, "plugin execution timed out")
		}
		return NewPluginError(ErrCodePluginExecution, "plugin execution cancelled")
	case err := <-resultCh:
		return err
	}
}

// executePlugin loads the script into runtime and calls execute(items, batch)
func (m *PluginManager) executePlugin(runtime *Runtime, plugin *Plugin, batch *batcher.Batch) error {
	if _, err := runtime.RunScript(plugin.Script); err != nil {
		return NewPluginError(ErrCodePluginExecution, fmt.Sprintf("script error: %v", err))
	}

	result, err := runtime.CallFunction("execute", batch.Items, batchInfo(batch))
	if err != nil {
		var jsErr *goja.Exception
		if errors.As(err, &jsErr) {
			return NewPluginError(ErrCodePluginExecution, jsErr.Error())
		}
		return NewPluginError(ErrCodePluginExecution, err.Error())
	}

	if result != nil {
		if ok, isBool := result.Export().(bool); isBool && !ok {
			return NewPluginError(ErrCodePluginRejected, "plugin rejected batch")
		}
	}
	return nil
}

// batchInfo is the batch object passed to execute
func batchInfo(batch *batcher.Batch) map[string]interface{} {
	return map[string]interface{}{
		"id":        batch.ID,
		"key":       string(batch.Key),
		"size":      batch.Len(),
		"createdAt": batch.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Handlers returns all handlers served by plugins
func (m *PluginManager) Handlers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handlers := make([]string, 0, len(m.plugins))
	for handler := range m.plugins {
		handlers = append(handlers, handler)
	}
	sort.Strings(handlers)
	return handlers
}

// Close releases all resources
func (m *PluginManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins = make(map[string]*Plugin)
	m.logger.Info().Msg("plugin manager closed")
}
