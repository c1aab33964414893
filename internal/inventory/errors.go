package inventory

import "errors"

// Domain errors for the inventory package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, inventory.ErrModuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrModuleNotFound is returned when no inventory row exists for an address.
	ErrModuleNotFound = errors.New("inventory: module not found")

	// ErrInvalidAddress is returned when a group address or an out-of-range
	// module address is passed in.
	ErrInvalidAddress = errors.New("inventory: invalid address")
)
