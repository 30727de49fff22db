package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-lange/puretools-remote/internal/clock"

	"go.uber.org/zap"
)

const (
	MediaPlayerIcon     = "mdi:video-input-hdmi"
	PowerOn             = "on"
	FeatureSelectSource = "select_source"
)

// MediaPlayerState is a snapshot of the media player entity
type MediaPlayerState struct {
	State             string     `json:"state"`
	Source            string     `json:"source,omitempty"`
	SourceList        []string   `json:"source_list"`
	SupportedFeatures []string   `json:"supported_features"`
	Icon              string     `json:"icon"`
	Identity          Identity   `json:"identity"`
	DeviceInfo        DeviceInfo `json:"device_info"`
	Available         bool       `json:"available"`
	AutoModeActive    bool       `json:"auto_mode_active"`
}

// MediaPlayer exposes input selection as a media player that is always on.
type MediaPlayer struct {
	device   Device
	labels   LabelSource
	clock    clock.Clock
	logger   *zap.Logger
	onIgnore func(label string)

	mu             sync.RWMutex
	identity       Identity
	latched        bool
	deviceInfo     DeviceInfo
	input          int
	autoModeActive bool
	available      bool
}

// NewMediaPlayer creates the media player adapter
func NewMediaPlayer(device Device, labels LabelSource, clk clock.Clock, logger *zap.Logger) *MediaPlayer {
	return &MediaPlayer{
		device: device,
		labels: labels,
		clock:  clk,
		logger: logger.Named("media_player"),
	}
}

// OnIgnoredSource registers a callback for labels that match no input
func (p *MediaPlayer) OnIgnoredSource(fn func(label string)) {
	p.onIgnore = fn
}

// ShouldPoll reports that the host must call Refresh periodically
func (p *MediaPlayer) ShouldPoll() bool {
	return true
}

// Refresh reads /sysinfo and updates the entity. On failure nothing but
// availability changes.
func (p *MediaPlayer) Refresh(ctx context.Context) error {
	info, err := p.device.SysInfo(ctx)
	if err != nil {
		p.mu.Lock()
		p.available = false
		p.mu.Unlock()
		return fmt.Errorf("refresh media player: %w", err)
	}

	input, known := info.Source.Input()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.latched {
		p.identity = Identity{UniqueID: info.Model, DisplayName: info.Model}
		p.latched = true
	}
	p.deviceInfo = deviceInfoFrom(info)
	if known {
		p.input = input
	} else {
		p.logger.Warn("Device reported unknown source",
			zap.String("source", string(info.Source)))
	}
	p.autoModeActive = info.Auto
	p.available = true
	return nil
}

// SelectSource switches to the input whose label matches. A label that
// matches no input is ignored without contacting the device. When
// auto-switching is active it is turned off first, otherwise the device
// would ignore the selection.
func (p *MediaPlayer) SelectSource(ctx context.Context, label string) error {
	n, ok := p.labels().Resolve(label)
	if !ok {
		p.logger.Warn("Ignoring unknown source", zap.String("source", label))
		if p.onIgnore != nil {
			p.onIgnore(label)
		}
		return nil
	}

	p.mu.RLock()
	auto := p.autoModeActive
	p.mu.RUnlock()

	if auto {
		p.logger.Debug("Disabling auto-switching before selecting input", zap.Int("input", n))
		if _, err := p.device.SetAutoMode(ctx, false); err != nil {
			return fmt.Errorf("disable auto-switching: %w", err)
		}
	}

	if _, err := p.device.SelectInput(ctx, n); err != nil {
		return fmt.Errorf("select input %d: %w", n, err)
	}

	p.clock.Sleep(SettleDelay)
	return p.Refresh(ctx)
}

// Identity returns the latched identity. ok is false before the first
// successful refresh.
func (p *MediaPlayer) Identity() (identity Identity, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity, p.latched
}

// State returns the current entity state
func (p *MediaPlayer) State() MediaPlayerState {
	labels := p.labels()

	p.mu.RLock()
	defer p.mu.RUnlock()

	state := MediaPlayerState{
		State:             PowerOn,
		SourceList:        labels.SourceList(),
		SupportedFeatures: []string{FeatureSelectSource},
		Icon:              MediaPlayerIcon,
		Identity:          p.identity,
		DeviceInfo:        p.deviceInfo,
		Available:         p.available,
		AutoModeActive:    p.autoModeActive,
	}
	if p.input != 0 {
		state.Source = labels.Label(p.input)
	}
	return state
}
