package shadowstate

import (
	"maps"
	"sync"
	"time"
)

// Tracker collects the shadow state of all plugins
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]func() PluginShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]func() PluginShadowState)}
}

// RegisterPluginProvider registers a function returning a plugin's current
// shadow state
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[pluginName] = provider
}

// GetPluginState returns one plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	provider, ok := t.providers[pluginName]
	t.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return provider(), true
}

// GetAllPluginStates returns the shadow state of every registered plugin
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	providers := maps.Clone(t.providers)
	t.mu.RUnlock()

	states := make(map[string]PluginShadowState, len(providers))
	for name, provider := range providers {
		states[name] = provider()
	}
	return states
}

// HDMISwitchTracker records the shadow state of the HDMI switch plugin
type HDMISwitchTracker struct {
	mu    sync.RWMutex
	now   func() time.Time
	state *HDMISwitchShadowState
}

// NewHDMISwitchTracker creates a tracker; now supplies timestamps
func NewHDMISwitchTracker(now func() time.Time) *HDMISwitchTracker {
	return &HDMISwitchTracker{now: now, state: NewHDMISwitchShadowState()}
}

// UpdateDeviceInputs stores the latest device report
func (t *HDMISwitchTracker) UpdateDeviceInputs(device string, inputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Inputs.Current[device] = maps.Clone(inputs)
	t.state.Metadata.LastUpdated = t.now()
}

// UpdateDeviceOutputs stores what was published for device
func (t *HDMISwitchTracker) UpdateDeviceOutputs(device, source string, autoSwitching, available bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.state.Outputs.Devices[device]
	out.Source = source
	out.AutoSwitching = autoSwitching
	out.Available = available
	t.state.Outputs.Devices[device] = out
	t.state.Metadata.LastUpdated = t.now()
}

// RecordAction records an action on device and snapshots the inputs
func (t *HDMISwitchTracker) RecordAction(device, actionType, reason string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := t.state.Outputs.Devices[device]
	out.LastAction = &ActionRecord{
		Timestamp:  now,
		ActionType: actionType,
		Reason:     reason,
		Details:    maps.Clone(details),
	}
	t.state.Outputs.Devices[device] = out
	t.state.Outputs.LastActionTime = now
	t.state.Metadata.LastUpdated = now

	t.state.Inputs.AtLastAction = make(map[string]any, len(t.state.Inputs.Current))
	for k, v := range t.state.Inputs.Current {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		t.state.Inputs.AtLastAction[k] = v
	}
}

// RemoveDevice forgets device
func (t *HDMISwitchTracker) RemoveDevice(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.state.Inputs.Current, device)
	delete(t.state.Outputs.Devices, device)
	t.state.Metadata.LastUpdated = t.now()
}

// GetState returns a deep copy of the shadow state
func (t *HDMISwitchTracker) GetState() *HDMISwitchShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := &HDMISwitchShadowState{
		Plugin: t.state.Plugin,
		Inputs: HDMISwitchInputs{
			Current:      make(map[string]any, len(t.state.Inputs.Current)),
			AtLastAction: make(map[string]any, len(t.state.Inputs.AtLastAction)),
		},
		Outputs: HDMISwitchOutputs{
			Devices:        make(map[string]SwitcherOutput, len(t.state.Outputs.Devices)),
			LastActionTime: t.state.Outputs.LastActionTime,
		},
		Metadata: t.state.Metadata,
	}
	copyInputs(out.Inputs.Current, t.state.Inputs.Current)
	copyInputs(out.Inputs.AtLastAction, t.state.Inputs.AtLastAction)

	for k, v := range t.state.Outputs.Devices {
		if v.LastAction != nil {
			action := *v.LastAction
			action.Details = maps.Clone(action.Details)
			v.LastAction = &action
		}
		out.Outputs.Devices[k] = v
	}
	return out
}

func copyInputs(dst, src map[string]any) {
	for k, v := range src {
		if m, ok := v.(map[string]any); ok {
			v = maps.Clone(m)
		}
		dst[k] = v
	}
}
