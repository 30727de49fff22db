package puretools

import "errors"

var (
	// ErrCannotConnect covers every network-layer failure talking to the
	// switcher: refused connection, timeout, bad status or unparsable body.
	ErrCannotConnect = errors.New("cannot connect to switcher")

	// ErrInvalidInput is returned for input numbers outside 1-4.
	ErrInvalidInput = errors.New("invalid hdmi input")
)
