// Package plugin provides the plugin interfaces and registry of the bridge.
// Plugins register themselves from init() functions; the service creates
// and starts every registered plugin in order. A plugin registered again
// under the same name with a higher priority replaces the earlier one.
package plugin

import "github.com/m-lange/puretools-remote/internal/shadowstate"

// Plugin is the lifecycle every plugin implements.
type Plugin interface {
	// Name returns the unique identifier used for registration and logging
	Name() string

	// Start sets up subscriptions and background work. It must not block.
	Start() error

	// Stop releases subscriptions, timers and connections
	Stop()
}

// ShadowStateProvider is implemented by plugins that record the inputs and
// outputs of their decisions for debugging.
type ShadowStateProvider interface {
	GetShadowState() shadowstate.PluginShadowState
}

// Factory creates a plugin from the shared context.
type Factory func(ctx *Context) (Plugin, error)
