package lcn

import "errors"

// Domain errors for the LCN package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to LCN-PCHK.
	ErrNotConnected = errors.New("lcn: not connected to PCHK")

	// ErrConnectionFailed is returned when the connection to PCHK fails.
	ErrConnectionFailed = errors.New("lcn: connection to PCHK failed")

	// ErrAuthFailed is returned when PCHK rejects the credentials.
	ErrAuthFailed = errors.New("lcn: authentication failed")

	// ErrLicense is returned when PCHK reports a licensing error during
	// the handshake (too many connections for the licensed count).
	ErrLicense = errors.New("lcn: PCHK license error")

	// ErrInvalidAddress is returned when a module or group address is out
	// of range.
	ErrInvalidAddress = errors.New("lcn: invalid address")

	// ErrInvalidParameter is returned when a command parameter (output id,
	// LED id, table id, ...) is out of range.
	ErrInvalidParameter = errors.New("lcn: invalid parameter")

	// ErrUnsupportedFirmware is returned when a command has no wire
	// encoding for the target module's firmware generation.
	ErrUnsupportedFirmware = errors.New("lcn: command not supported by module firmware")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("lcn: operation timed out")

	// ErrNoResult is returned when a status request exhausts its retry
	// budget without receiving a matching response.
	ErrNoResult = errors.New("lcn: no status response received")

	// ErrClosed is returned when the connection has been shut down.
	ErrClosed = errors.New("lcn: connection closed")
)
