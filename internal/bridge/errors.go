package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrNotStarted is returned when an operation requires a started
	// bridge.
	ErrNotStarted = errors.New("bridge: not started")

	// ErrInvalidAddress is returned when a topic address segment does not
	// parse as a module or group address.
	ErrInvalidAddress = errors.New("bridge: invalid address")

	// ErrUnknownCommand is returned for command names the bridge does not
	// implement.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrMissingParameter is returned when a command payload lacks a
	// required parameter.
	ErrMissingParameter = errors.New("bridge: missing parameter")

	// ErrInvalidParameter is returned when a command parameter has the
	// wrong type or an unrecognized value.
	ErrInvalidParameter = errors.New("bridge: invalid parameter")
)
