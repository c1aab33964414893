package mqtt

import "fmt"

// Topic prefixes for the LCN bridge MQTT surface.
//
// All bridge topics use the flat scheme: lcn/{category}/{address_or_id}
// where addresses render in the bus form S000M007 / S000G011.
const (
	// TopicPrefix is the base for all LCN bridge topics.
	TopicPrefix = "lcn"

	// TopicPrefixBridge is the base for bridge lifecycle topics
	// (status, health, discovery).
	TopicPrefixBridge = "lcn/bridge"
)

// Topics provides builders for LCN bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("S000M007", "output1")
//	// Returns: "lcn/state/S000M007/output1"
type Topics struct{}

// State returns the topic for a status item of a module.
//
// Example: lcn/state/S000M007/output1
func (Topics) State(address, item string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, address, item)
}

// Command returns the topic for commands addressed to a module or group.
//
// Example: lcn/command/S000M007
func (Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, address)
}

// Ack returns the topic for command acknowledgements from a module.
//
// Example: lcn/ack/S000M007
func (Topics) Ack(address string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, address)
}

// Event returns the topic for unsolicited bus events from a module,
// such as key presses relayed by host commands.
//
// Example: lcn/event/S000M007
func (Topics) Event(address string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, address)
}

// Discovery returns the topic for module discovery announcements.
//
// Example: lcn/bridge/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefixBridge)
}

// Health returns the topic for bridge health reports.
//
// Example: lcn/bridge/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefixBridge)
}

// SystemStatus returns the bridge online/offline status topic.
// The Last Will and Testament is registered here.
//
// Example: lcn/bridge/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixBridge)
}

// AllCommands returns a wildcard pattern matching commands for every
// address; the bridge's single command subscription uses it.
//
// Pattern: lcn/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}
