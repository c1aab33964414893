// Package lcn implements a client for the LCN-PCK protocol spoken by the
// LCN-PCHK gateway. It translates between typed Go values and the
// newline-terminated ASCII command syntax used on the wire.
//
// # Architecture
//
// The package is layered from the wire up:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Application   │   API    │   Connection    │   TCP
//	│  (e.g. bridge)  │◄────────►│   (this pkg)    │◄────────► LCN-PCHK ── LCN Bus
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Authenticate against LCN-PCHK and drive the bus-ready handshake
//   - Discover the local segment via a segment coupler scan
//   - Generate PCK commands (commands.go) and parse status lines (inputs.go)
//   - Maintain per-module conversations: acknowledge-gated command queues,
//     serial/firmware discovery and status polling (device.go)
//   - Correlate and deduplicate status requests (requests.go)
//
// # Addressing
//
// LCN devices live on numbered segments. Segment 0 means "the local segment"
// until the coupler scan resolves the real id. Modules are addressed
// individually, groups fan a command out to several modules:
//
//	addr := lcn.ModuleAddress(0, 7)
//	dev := conn.Module(addr)
//	err := dev.DimOutput(ctx, 0, 50.0, 123)
//
// # Firmware Branching
//
// Several variable commands have two wire encodings. Modules with firmware
// 170206 or newer use generic id-based commands; older modules use fixed
// legacy mnemonics and cannot express every variable. The device connection
// discovers each module's firmware age before issuing such commands.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - LCN-PCHK: https://www.lcn.eu
package lcn
