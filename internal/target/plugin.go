package target

import (
	"context"

	"batchable/internal/batcher"
	"batchable/internal/plugin"
)

// PluginTarget runs a JavaScript plugin for each batch
type PluginTarget struct {
	handler string
	manager plugin.Manager
}

// NewPluginTarget creates a PluginTarget running the plugin registered for handler
func NewPluginTarget(handler string, manager plugin.Manager) *PluginTarget {
	return &PluginTarget{
		handler: handler,
		manager: manager,
	}
}

// HandleBatch executes the plugin
func (t *PluginTarget) HandleBatch(ctx context.Context, batch *batcher.Batch) error {
	return t.manager.Execute(ctx, t.handler, batch)
}

// Type returns "plugin"
func (t *PluginTarget) Type() string { return "plugin" }

// Close does nothing, the manager is closed by its owner
func (t *PluginTarget) Close() error { return nil }
