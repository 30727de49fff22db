package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/m-lange/puretools-remote/internal/plugins/hdmiswitch"

	"go.uber.org/zap"
)

// DefaultBaseTopic prefixes every state and command topic
const DefaultBaseTopic = "puretools-remote"

const commandTimeout = 20 * time.Second

// Controller is the part of the switch manager the bridge drives
type Controller interface {
	Devices() []hdmiswitch.Status
	SelectSource(ctx context.Context, id, label string) (hdmiswitch.Status, error)
	SetAutoSwitching(ctx context.Context, id string, on bool) (hdmiswitch.Status, error)
}

// Bridge mirrors switcher state to MQTT and routes command topics to the
// controller
type Bridge struct {
	pub        Publisher
	controller Controller
	topics     Topics
	logger     *zap.Logger

	mu         sync.Mutex
	discovered map[string][]byte // switcher id -> last select+switch config
}

// NewBridge creates a bridge. Topics with an empty Base use DefaultBaseTopic.
func NewBridge(pub Publisher, controller Controller, topics Topics, logger *zap.Logger) *Bridge {
	if topics.Base == "" {
		topics.Base = DefaultBaseTopic
	}
	if topics.DiscoveryPrefix == "" {
		topics.DiscoveryPrefix = "homeassistant"
	}
	return &Bridge{
		pub:        pub,
		controller: controller,
		topics:     topics,
		logger:     logger.Named("mqtt_bridge"),
		discovered: make(map[string][]byte),
	}
}

// Topics returns the topic layout in use
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start subscribes to the command topics and publishes the current state of
// every switcher
func (b *Bridge) Start() error {
	if err := b.pub.Subscribe(b.topics.SourceCommandFilter(), b.handleSourceCommand); err != nil {
		return err
	}
	if err := b.pub.Subscribe(b.topics.AutoCommandFilter(), b.handleAutoCommand); err != nil {
		return err
	}
	for _, st := range b.controller.Devices() {
		b.HandleUpdate(st)
	}
	b.logger.Info("MQTT bridge started",
		zap.String("base_topic", b.topics.Base),
		zap.String("discovery_prefix", b.topics.DiscoveryPrefix))
	return nil
}

// HandleUpdate publishes the state of one switcher. Discovery configs are
// sent once the switcher is set up and again whenever they change.
func (b *Bridge) HandleUpdate(st hdmiswitch.Status) {
	if st.Ready {
		b.publishDiscovery(st)
	}

	available := OfflinePayload
	if st.Ready && st.MediaPlayer.Available {
		available = OnlinePayload
	}
	b.publish(b.topics.Availability(st.ID), available)

	if st.MediaPlayer.Source != "" {
		b.publish(b.topics.SourceState(st.ID), st.MediaPlayer.Source)
	}
	if st.AutoSwitch.Available {
		b.publish(b.topics.AutoState(st.ID), onOff(st.AutoSwitch.IsOn))
	}
}

func (b *Bridge) publishDiscovery(st hdmiswitch.Status) {
	d := BuildDiscovery(b.topics, st)

	selectPayload, err := json.Marshal(d.Select)
	if err != nil {
		b.logger.Error("Failed to encode discovery config", zap.String("switcher", st.ID), zap.Error(err))
		return
	}
	switchPayload, err := json.Marshal(d.Switch)
	if err != nil {
		b.logger.Error("Failed to encode discovery config", zap.String("switcher", st.ID), zap.Error(err))
		return
	}
	fingerprint := append(append([]byte{}, selectPayload...), switchPayload...)

	b.mu.Lock()
	unchanged := bytes.Equal(b.discovered[st.ID], fingerprint)
	if !unchanged {
		b.discovered[st.ID] = fingerprint
	}
	b.mu.Unlock()
	if unchanged {
		return
	}

	b.logger.Info("Publishing discovery config",
		zap.String("switcher", st.ID),
		zap.Strings("options", d.Select.Options))
	okSelect := b.publishRaw(d.SelectTopic, selectPayload)
	okSwitch := b.publishRaw(d.SwitchTopic, switchPayload)
	if !okSelect || !okSwitch {
		// retry on the next update
		b.mu.Lock()
		delete(b.discovered, st.ID)
		b.mu.Unlock()
	}
}

func (b *Bridge) publish(topic, payload string) bool {
	return b.publishRaw(topic, []byte(payload))
}

func (b *Bridge) publishRaw(topic string, payload []byte) bool {
	if err := b.pub.Publish(topic, true, payload); err != nil {
		b.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return true
}

// switcherID extracts <id> from <base>/<id>/<kind>/set
func (b *Bridge) switcherID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.topics.Base+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	return id, ok && id != ""
}

func (b *Bridge) handleSourceCommand(topic string, payload []byte) {
	id, ok := b.switcherID(topic)
	label := strings.TrimSpace(string(payload))
	if !ok || label == "" {
		b.logger.Warn("Ignoring malformed source command", zap.String("topic", topic))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	st, err := b.controller.SelectSource(ctx, id, label)
	b.commandDone(id, "select_source", st, err)
}

func (b *Bridge) handleAutoCommand(topic string, payload []byte) {
	id, ok := b.switcherID(topic)
	if !ok {
		b.logger.Warn("Ignoring malformed auto command", zap.String("topic", topic))
		return
	}

	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadOn:
		on = true
	case PayloadOff:
		on = false
	default:
		b.logger.Warn("Ignoring auto command with unexpected payload",
			zap.String("topic", topic),
			zap.ByteString("payload", payload))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	st, err := b.controller.SetAutoSwitching(ctx, id, on)
	b.commandDone(id, "set_auto_switching", st, err)
}

// commandDone logs failures. Successful commands reach the broker through
// the manager's update listener; after a failure the last known state is
// republished so that Home Assistant drops values the device did not take.
func (b *Bridge) commandDone(id, command string, st hdmiswitch.Status, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, hdmiswitch.ErrReadOnlyMode):
		b.logger.Info("Command skipped in read-only mode",
			zap.String("switcher", id),
			zap.String("command", command))
	case errors.Is(err, hdmiswitch.ErrUnknownSwitcher):
		b.logger.Warn("Command for unknown switcher",
			zap.String("switcher", id),
			zap.String("command", command))
		return
	default:
		b.logger.Error("Command failed",
			zap.String("switcher", id),
			zap.String("command", command),
			zap.Error(err))
	}
	if st.ID != "" {
		b.HandleUpdate(st)
	}
}

func onOff(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}
