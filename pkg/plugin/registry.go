package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registration priorities. The higher priority wins for a shared name.
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// DefaultOrder is used when PluginInfo.Order is zero
const DefaultOrder = 50

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	Name        string
	Description string
	Priority    int
	Factory     Factory

	// Order sets the start order; lower values start first
	Order int
}

// Registry holds plugin registrations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]PluginInfo
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]PluginInfo)}
}

// Register adds a plugin. A registration with lower priority than an
// existing one of the same name is ignored; equal or higher replaces it.
func (r *Registry) Register(info PluginInfo) error {
	if info.Name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("plugin %s: factory cannot be nil", info.Name)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	// zap.L() so that init() registrations log through the logger installed
	// later with zap.ReplaceGlobals
	logger := zap.L().Named("plugin")

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.plugins[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			logger.Debug("Plugin registration skipped",
				zap.String("plugin", info.Name),
				zap.Int("priority", info.Priority),
				zap.Int("existing_priority", existing.Priority))
			return nil
		}
		logger.Info("Plugin overridden",
			zap.String("plugin", info.Name),
			zap.Int("from_priority", existing.Priority),
			zap.Int("to_priority", info.Priority))
	} else {
		r.order = append(r.order, info.Name)
	}
	r.plugins[info.Name] = info

	logger.Debug("Plugin registered",
		zap.String("plugin", info.Name),
		zap.Int("priority", info.Priority),
		zap.Int("order", info.Order),
		zap.String("description", info.Description))
	return nil
}

// Get returns the registration for name, or nil.
func (r *Registry) Get(name string) *PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.plugins[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registrations sorted by Order, then name.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	result := make([]PluginInfo, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	r.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// CreateAll instantiates every plugin in start order. If a factory fails,
// the plugins created so far are stopped.
func (r *Registry) CreateAll(ctx *Context) ([]Plugin, error) {
	infos := r.List()
	result := make([]Plugin, 0, len(infos))

	for _, info := range infos {
		p, err := info.Factory(ctx)
		if err != nil {
			StopAll(result)
			return nil, fmt.Errorf("failed to create plugin %s: %w", info.Name, err)
		}
		result = append(result, p)
	}
	return result, nil
}

// Clear removes all registrations.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]PluginInfo)
	r.order = nil
}

// StartAll starts plugins in order. If one fails, those already started are
// stopped in reverse order.
func StartAll(plugins []Plugin) error {
	for i, p := range plugins {
		if err := p.Start(); err != nil {
			StopAll(plugins[:i])
			return fmt.Errorf("failed to start plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops plugins in reverse order.
func StopAll(plugins []Plugin) {
	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Stop()
	}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry.
func Register(info PluginInfo) error {
	return globalRegistry.Register(info)
}

// Get returns a registration from the global registry.
func Get(name string) *PluginInfo {
	return globalRegistry.Get(name)
}

// List returns the global registrations in start order.
func List() []PluginInfo {
	return globalRegistry.List()
}

// CreateAll creates every plugin of the global registry.
func CreateAll(ctx *Context) ([]Plugin, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns the global registration names.
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal empties the global registry.
func ClearGlobal() {
	globalRegistry.Clear()
}
