package plugin

import (
	"context"

	"batchable/internal/batcher"
)

// Plugin represents a loaded JavaScript plugin
type Plugin struct {
	Name    string // plugin name (filename without extension)
	Handler string // batch handler this plugin serves
	Script  string // JavaScript source code
}

// Manager defines the plugin manager interface
type Manager interface {
	// Has checks if a plugin exists for the given handler
	Has(handler string) bool
	// Execute runs the plugin for the given handler with the batch
	Execute(ctx context.Context, handler string, batch *batcher.Batch) error
	// Handlers returns all handlers served by plugins
	Handlers() []string
	// Close releases all resources
	Close()
}

// PluginError represents an error that occurred during plugin execution
type PluginError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *PluginError) Error() string {
	return e.Message
}

// NewPluginError creates a new plugin error
func NewPluginError(code int, message string) *PluginError {
	return &PluginError{
		Code:    code,
		Message: message,
	}
}

// Plugin error codes
const (
	ErrCodePluginNotFound  = -32011
	ErrCodePluginExecution = -32012
	ErrCodePluginTimeout   = -32013
	ErrCodePluginRejected  = -32014
)
