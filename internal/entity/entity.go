// Package entity adapts a PureTools switcher to the two entities it exposes:
// a media player for source selection and a switch for auto-switching mode.
//
// Adapters hold no timers. The host calls Refresh on its poll tick and
// serializes calls so that no two device requests for the same switcher
// overlap.
package entity

import (
	"context"
	"time"

	"github.com/m-lange/puretools-remote/internal/puretools"
)

// SettleDelay is the pause between a command and the refresh that follows it.
const SettleDelay = 250 * time.Millisecond

const (
	Manufacturer = "PureTools"
	ProductName  = "PureTools 4x1 HDMI Switcher"
	Domain       = "puretools"
)

// Device is the switcher as seen by the adapters. *puretools.Client
// satisfies it.
type Device interface {
	SysInfo(ctx context.Context) (puretools.SysInfo, error)
	SelectInput(ctx context.Context, n int) (puretools.Ack, error)
	SetAutoMode(ctx context.Context, enabled bool) (puretools.Ack, error)
}

// Identity is latched from the first successful refresh and never changes.
type Identity struct {
	UniqueID    string `json:"unique_id"`
	DisplayName string `json:"name"`
}

// DeviceInfo groups both entities under one device in the host registry.
// Unlike Identity it is rewritten on every successful refresh.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version"`
}

func deviceInfoFrom(info puretools.SysInfo) DeviceInfo {
	return DeviceInfo{
		Identifier:   info.Model,
		Manufacturer: Manufacturer,
		Name:         ProductName,
		Model:        info.Model,
		SWVersion:    info.SWVersion,
	}
}
