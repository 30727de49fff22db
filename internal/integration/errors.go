package integration

import "errors"

var (
	// ErrAlreadyConfigured aborts a flow for a host that already has an entry
	ErrAlreadyConfigured = errors.New("already configured")

	// ErrNotReady means setup failed and should be retried later
	ErrNotReady = errors.New("config entry not ready")

	// ErrUnknownEntry is returned for an id with no entry
	ErrUnknownEntry = errors.New("unknown config entry")
)
