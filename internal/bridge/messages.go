package bridge

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nerrad567/lcn-core/internal/lcn"
)

// =============================================================================
// Command Messages (MQTT -> Bus)
// =============================================================================

// CommandMessage is a command received over MQTT, addressed to the module
// or group named in the topic.
//
// Example payload on lcn/command/S000M007:
//
//	{
//	    "id": "cmd-123",
//	    "command": "dim",
//	    "parameters": {"output": 1, "percent": 50, "ramp_ms": 1000},
//	    "source": "automation"
//	}
type CommandMessage struct {
	// ID is an optional correlation id, echoed back in acknowledgements.
	ID string `json:"id,omitempty"`

	// Command names the operation, e.g. "dim", "relays", "send_keys".
	Command string `json:"command"`

	// Parameters carries the command-specific arguments.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Source identifies the originating system, for tracing only.
	Source string `json:"source,omitempty"`
}

// =============================================================================
// Acknowledgement Messages (Bus -> MQTT)
// =============================================================================

// AckStatus indicates how far a command got.
type AckStatus string

// Acknowledgement statuses.
const (
	// AckAccepted: the command was valid and entered the module's
	// transmit queue.
	AckAccepted AckStatus = "accepted"

	// AckConfirmed: the module acknowledged the command on the bus.
	AckConfirmed AckStatus = "confirmed"

	// AckFailed: the command was rejected, either by the bridge or by the
	// module.
	AckFailed AckStatus = "failed"
)

// Bridge error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeInvalidAddress    = "INVALID_ADDRESS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorDetail describes why a command failed.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckMessage is published on lcn/ack/{address} for every handled command
// and for every bus acknowledgement.
type AckMessage struct {
	ID        string       `json:"id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Address   string       `json:"address"`
	Status    AckStatus    `json:"status"`
	Code      int          `json:"code,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(address, id string, status AckStatus) AckMessage {
	return AckMessage{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Address:   address,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgement with an error detail.
func NewAckError(address, id, code, message string) AckMessage {
	msg := NewAckMessage(address, id, AckFailed)
	msg.Error = &ErrorDetail{Code: code, Message: message}
	return msg
}

// =============================================================================
// State and Event Messages (Bus -> MQTT)
// =============================================================================

// StateMessage is a status item report, published retained on
// lcn/state/{address}/{item}.
type StateMessage struct {
	Timestamp time.Time              `json:"timestamp"`
	Address   string                 `json:"address"`
	Item      string                 `json:"item"`
	Values    map[string]interface{} `json:"values"`
}

// NewStateMessage creates a state report for one status item.
func NewStateMessage(address, item string, values map[string]interface{}) StateMessage {
	return StateMessage{
		Timestamp: time.Now().UTC(),
		Address:   address,
		Item:      item,
		Values:    values,
	}
}

// EventMessage is an unsolicited bus event, published on
// lcn/event/{address}. Unlike states, events are not retained.
type EventMessage struct {
	Timestamp time.Time              `json:"timestamp"`
	Address   string                 `json:"address"`
	Type      string                 `json:"type"`
	Values    map[string]interface{} `json:"values"`
}

// NewEventMessage creates an event report.
func NewEventMessage(address, eventType string, values map[string]interface{}) EventMessage {
	return EventMessage{
		Timestamp: time.Now().UTC(),
		Address:   address,
		Type:      eventType,
		Values:    values,
	}
}

// =============================================================================
// Health Messages
// =============================================================================

// HealthStatus represents the bridge's health state.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic health report, published retained on
// lcn/bridge/health.
type HealthMessage struct {
	Bridge        string                 `json:"bridge"`
	Timestamp     time.Time              `json:"timestamp"`
	Status        HealthStatus           `json:"status"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Connection    map[string]interface{} `json:"connection"`
	Statistics    map[string]interface{} `json:"statistics,omitempty"`
	ModulesSeen   int                    `json:"modules_seen"`
	Reason        string                 `json:"reason,omitempty"`
}

// NewHealthMessage creates a health report.
func NewHealthMessage(status HealthStatus, version string, uptime time.Duration) HealthMessage {
	return HealthMessage{
		Bridge:        "lcn",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(uptime.Seconds()),
	}
}

// =============================================================================
// Discovery Messages
// =============================================================================

// DiscoveredModule describes one known bus module.
type DiscoveredModule struct {
	Address      string `json:"address"`
	Serial       string `json:"serial,omitempty"`
	FirmwareAge  string `json:"firmware_age,omitempty"`
	HardwareType int    `json:"hardware_type,omitempty"`
	Name         string `json:"name,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

// DiscoveryMessage lists the modules the bridge knows about, published
// retained on lcn/bridge/discovery.
type DiscoveryMessage struct {
	Bridge    string             `json:"bridge"`
	Timestamp time.Time          `json:"timestamp"`
	Modules   []DiscoveredModule `json:"modules"`
}

// NewDiscoveryMessage creates a discovery announcement.
func NewDiscoveryMessage(modules []DiscoveredModule) DiscoveryMessage {
	return DiscoveryMessage{
		Bridge:    "lcn",
		Timestamp: time.Now().UTC(),
		Modules:   modules,
	}
}

// =============================================================================
// Address Parsing
// =============================================================================

// Topic addresses use the bus rendering, e.g. "S000M007" or "S012G011".
var reTopicAddress = regexp.MustCompile(`^S(\d{3})([MG])(\d{3})$`)

// ParseAddress parses a topic address segment into a bus address.
func ParseAddress(s string) (lcn.Address, error) {
	m := reTopicAddress.FindStringSubmatch(s)
	if m == nil {
		return lcn.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	segment, _ := strconv.Atoi(m[1]) //nolint:errcheck // Digits by pattern
	id, _ := strconv.Atoi(m[3])      //nolint:errcheck // Digits by pattern

	var addr lcn.Address
	if m[2] == "G" {
		addr = lcn.GroupAddress(segment, id)
	} else {
		addr = lcn.ModuleAddress(segment, id)
	}
	if !addr.IsValid() {
		return lcn.Address{}, fmt.Errorf("%w: %q out of range", ErrInvalidAddress, s)
	}
	return addr, nil
}
