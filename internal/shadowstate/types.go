package shadowstate

import "time"

// PluginShadowState is what every plugin exposes for debugging: the inputs
// it reacted to, the outputs it produced and when that happened
type PluginShadowState interface {
	GetCurrentInputs() map[string]any
	GetLastActionInputs() map[string]any
	GetOutputs() any
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// ActionRecord is a single action taken by a plugin
type ActionRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"actionType"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details,omitempty"`
}

// Action types recorded by the HDMI switch plugin
const (
	ActionSelectSource  = "select_source"
	ActionIgnoredSource = "ignored_source"
	ActionAutoSwitching = "set_auto_switching"
	ActionReadOnly      = "read_only_skipped"
	ActionSetupFailed   = "setup_failed"
	ActionOptions       = "update_options"
)

// HDMISwitchShadowState is the shadow state of the HDMI switch plugin
type HDMISwitchShadowState struct {
	Plugin   string            `json:"plugin"`
	Inputs   HDMISwitchInputs  `json:"inputs"`
	Outputs  HDMISwitchOutputs `json:"outputs"`
	Metadata StateMetadata     `json:"metadata"`
}

// HDMISwitchInputs holds the last /sysinfo of every device, keyed by
// device id, now and at the time of the last action
type HDMISwitchInputs struct {
	Current      map[string]any `json:"current"`
	AtLastAction map[string]any `json:"atLastAction"`
}

// HDMISwitchOutputs holds what the plugin published per device
type HDMISwitchOutputs struct {
	Devices        map[string]SwitcherOutput `json:"devices"`
	LastActionTime time.Time                 `json:"lastActionTime"`
}

// SwitcherOutput is the published state of one switcher
type SwitcherOutput struct {
	Source        string        `json:"source,omitempty"`
	AutoSwitching bool          `json:"autoSwitching"`
	Available     bool          `json:"available"`
	LastAction    *ActionRecord `json:"lastAction,omitempty"`
}

// NewHDMISwitchShadowState creates an empty shadow state
func NewHDMISwitchShadowState() *HDMISwitchShadowState {
	return &HDMISwitchShadowState{
		Plugin: "hdmiswitch",
		Inputs: HDMISwitchInputs{
			Current:      make(map[string]any),
			AtLastAction: make(map[string]any),
		},
		Outputs: HDMISwitchOutputs{
			Devices: make(map[string]SwitcherOutput),
		},
		Metadata: StateMetadata{PluginName: "hdmiswitch"},
	}
}

func (s *HDMISwitchShadowState) GetCurrentInputs() map[string]any {
	return s.Inputs.Current
}

func (s *HDMISwitchShadowState) GetLastActionInputs() map[string]any {
	return s.Inputs.AtLastAction
}

func (s *HDMISwitchShadowState) GetOutputs() any {
	return s.Outputs
}

func (s *HDMISwitchShadowState) GetMetadata() StateMetadata {
	return s.Metadata
}
