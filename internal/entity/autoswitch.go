package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-lange/puretools-remote/internal/clock"

	"go.uber.org/zap"
)

const (
	AutoSwitchName     = "Auto-switching mode"
	AutoSwitchIcon     = "mdi:auto-mode"
	AutoSwitchCategory = "config"
	autoSwitchIDSuffix = "-auto"
)

// AutoSwitchState is a snapshot of the auto-switching switch entity
type AutoSwitchState struct {
	IsOn           bool       `json:"is_on"`
	Icon           string     `json:"icon"`
	EntityCategory string     `json:"entity_category"`
	Identity       Identity   `json:"identity"`
	DeviceInfo     DeviceInfo `json:"device_info"`
	Available      bool       `json:"available"`
}

// AutoSwitch exposes the device's auto-switching mode as a switch.
type AutoSwitch struct {
	device Device
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.RWMutex
	identity   Identity
	latched    bool
	deviceInfo DeviceInfo
	isOn       bool
	available  bool
}

// NewAutoSwitch creates the auto-switching adapter
func NewAutoSwitch(device Device, clk clock.Clock, logger *zap.Logger) *AutoSwitch {
	return &AutoSwitch{
		device: device,
		clock:  clk,
		logger: logger.Named("auto_switch"),
	}
}

// ShouldPoll reports that the host must call Refresh periodically
func (s *AutoSwitch) ShouldPoll() bool {
	return true
}

// Refresh reads /sysinfo and updates the switch. On failure nothing but
// availability changes.
func (s *AutoSwitch) Refresh(ctx context.Context) error {
	info, err := s.device.SysInfo(ctx)
	if err != nil {
		s.mu.Lock()
		s.available = false
		s.mu.Unlock()
		return fmt.Errorf("refresh auto switch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.latched {
		s.identity = Identity{UniqueID: info.Model + autoSwitchIDSuffix, DisplayName: AutoSwitchName}
		s.latched = true
	}
	s.deviceInfo = deviceInfoFrom(info)
	s.isOn = info.Auto
	s.available = true
	return nil
}

// TurnOn enables auto-switching
func (s *AutoSwitch) TurnOn(ctx context.Context) error {
	return s.set(ctx, true)
}

// TurnOff enables manual switching
func (s *AutoSwitch) TurnOff(ctx context.Context) error {
	return s.set(ctx, false)
}

func (s *AutoSwitch) set(ctx context.Context, on bool) error {
	s.logger.Debug("Setting auto-switching", zap.Bool("on", on))
	if _, err := s.device.SetAutoMode(ctx, on); err != nil {
		return fmt.Errorf("set auto-switching %t: %w", on, err)
	}
	s.clock.Sleep(SettleDelay)
	return s.Refresh(ctx)
}

// Identity returns the latched identity. ok is false before the first
// successful refresh.
func (s *AutoSwitch) Identity() (identity Identity, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.latched
}

// State returns the current entity state
func (s *AutoSwitch) State() AutoSwitchState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return AutoSwitchState{
		IsOn:           s.isOn,
		Icon:           AutoSwitchIcon,
		EntityCategory: AutoSwitchCategory,
		Identity:       s.identity,
		DeviceInfo:     s.deviceInfo,
		Available:      s.available,
	}
}
