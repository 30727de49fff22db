package mqtt

import (
	"fmt"

	"github.com/m-lange/puretools-remote/internal/entity"
	"github.com/m-lange/puretools-remote/internal/plugins/hdmiswitch"
)

// Availability payloads
const (
	OnlinePayload  = "online"
	OfflinePayload = "offline"
)

// Switch payloads
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Topics builds the topic names of the bridge
type Topics struct {
	Base            string // e.g. puretools-remote
	DiscoveryPrefix string // e.g. homeassistant
}

// Status is the bridge availability topic (also the last will)
func (t Topics) Status() string { return t.Base + "/status" }

// Availability is the per-switcher availability topic
func (t Topics) Availability(id string) string { return t.Base + "/" + id + "/availability" }

// SourceState carries the selected source label
func (t Topics) SourceState(id string) string { return t.Base + "/" + id + "/source" }

// SourceCommand accepts a source label
func (t Topics) SourceCommand(id string) string { return t.Base + "/" + id + "/source/set" }

// AutoState carries ON or OFF
func (t Topics) AutoState(id string) string { return t.Base + "/" + id + "/auto" }

// AutoCommand accepts ON or OFF
func (t Topics) AutoCommand(id string) string { return t.Base + "/" + id + "/auto/set" }

// SourceCommandFilter matches the source command topic of every switcher
func (t Topics) SourceCommandFilter() string { return t.Base + "/+/source/set" }

// AutoCommandFilter matches the auto command topic of every switcher
func (t Topics) AutoCommandFilter() string { return t.Base + "/+/auto/set" }

// Config is the discovery topic of one component
func (t Topics) Config(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, component, objectID)
}

// Device groups both components under one device in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Availability is one entry of a component's availability list
type Availability struct {
	Topic string `json:"topic"`
}

// Component is a discovery config for a select or switch
type Component struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id"`
	Icon             string         `json:"icon,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	StateTopic       string         `json:"state_topic"`
	CommandTopic     string         `json:"command_topic"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	Device           Device         `json:"device"`

	// select
	Options []string `json:"options,omitempty"`

	// switch
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
}

// Discovery is the pair of discovery configs for one switcher
type Discovery struct {
	SelectTopic string
	Select      Component
	SwitchTopic string
	Switch      Component
}

// BuildDiscovery returns the discovery configs of a switcher that is set up.
// Unique ids are prefixed with the switcher id because the entity identity is
// the model, which two switchers of the same kind share.
func BuildDiscovery(t Topics, st hdmiswitch.Status) Discovery {
	info := st.MediaPlayer.DeviceInfo
	device := Device{
		Identifiers:  []string{entity.Domain + "_" + st.ID},
		Name:         st.Name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SWVersion:    info.SWVersion,
	}
	availability := []Availability{{Topic: t.Status()}, {Topic: t.Availability(st.ID)}}

	selectID := st.ID + "_source"
	switchID := st.ID + "_auto_switching"

	return Discovery{
		SelectTopic: t.Config("select", selectID),
		Select: Component{
			Name:             "Source",
			UniqueID:         st.ID + "_" + st.MediaPlayer.Identity.UniqueID,
			ObjectID:         selectID,
			Icon:             entity.MediaPlayerIcon,
			StateTopic:       t.SourceState(st.ID),
			CommandTopic:     t.SourceCommand(st.ID),
			Availability:     availability,
			AvailabilityMode: "all",
			Device:           device,
			Options:          st.MediaPlayer.SourceList,
		},
		SwitchTopic: t.Config("switch", switchID),
		Switch: Component{
			Name:             st.AutoSwitch.Identity.DisplayName,
			UniqueID:         st.ID + "_" + st.AutoSwitch.Identity.UniqueID,
			ObjectID:         switchID,
			Icon:             st.AutoSwitch.Icon,
			EntityCategory:   st.AutoSwitch.EntityCategory,
			StateTopic:       t.AutoState(st.ID),
			CommandTopic:     t.AutoCommand(st.ID),
			Availability:     availability,
			AvailabilityMode: "all",
			Device:           device,
			PayloadOn:        PayloadOn,
			PayloadOff:       PayloadOff,
		},
	}
}
