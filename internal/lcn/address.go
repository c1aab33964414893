package lcn

import "fmt"

// Address identifies a module or a group on the LCN bus.
//
// Segment 0 is shorthand for "the local segment" (the segment the PCHK
// gateway is physically attached to) until the segment coupler scan has
// resolved the real id. Address is an immutable value type and can be used
// as a map key.
type Address struct {
	// Segment is the segment id (0..128). 0 means local.
	Segment int

	// ID is the module id (1..253) or group id (3..253).
	ID int

	// Group is true for group addresses, false for module addresses.
	Group bool
}

// ModuleAddress returns the address of a single module.
func ModuleAddress(segment, id int) Address {
	return Address{Segment: segment, ID: id}
}

// GroupAddress returns the address of a module group.
func GroupAddress(segment, id int) Address {
	return Address{Segment: segment, ID: id, Group: true}
}

// IsValid reports whether the address is within the ranges the bus can
// route. Modules use ids 1..253, groups 3..253, segments 0..128 for both.
// Constructing an out-of-range address is possible; callers must check
// validity before emitting commands for it.
func (a Address) IsValid() bool {
	if a.Segment < 0 || a.Segment > 128 {
		return false
	}
	if a.Group {
		return a.ID >= 3 && a.ID < 254
	}
	return a.ID >= 1 && a.ID < 254
}

// PhysicalSegment returns the segment id to put on the wire when the local
// segment is localSegment: commands for the local segment are always
// addressed to segment 0.
func (a Address) PhysicalSegment(localSegment int) int {
	if a.Segment == localSegment {
		return 0
	}
	return a.Segment
}

// ToLogical resolves a physically-addressed source (as parsed off the wire)
// into its logical form. Physical segment 0, and segment 4 which PCHK uses
// for locally generated traffic, both map to the resolved local segment id.
// The receiver is unchanged; the resolved address is returned.
func (a Address) ToLogical(localSegment int) Address {
	seg := a.Segment
	if seg == 0 || seg == 4 {
		seg = localSegment
	}
	return Address{Segment: seg, ID: a.ID, Group: a.Group}
}

// String returns a human-readable representation, e.g. "S000M007" or
// "S000G010".
func (a Address) String() string {
	kind := "M"
	if a.Group {
		kind = "G"
	}
	return fmt.Sprintf("S%03d%s%03d", a.Segment, kind, a.ID)
}
