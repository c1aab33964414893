package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteOutputStatus records a dimmer output level for a module.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - address: Bus address in the S000M007 form
//   - output: Zero-based output id (0..3)
//   - percent: Output level 0..100
//
// Example:
//
//	client.WriteOutputStatus("S000M007", 0, 50.0)
func (c *Client) WriteOutputStatus(address string, output int, percent float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lcn_output",
		map[string]string{
			"address": address,
			"output":  outputTag(output),
		},
		map[string]interface{}{
			"percent": percent,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRelayStatus records the eight relay states of a module as a bitmask.
//
// Parameters:
//   - address: Bus address in the S000M007 form
//   - states: Bit i set means relay i is closed
func (c *Client) WriteRelayStatus(address string, states uint8) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lcn_relays",
		map[string]string{
			"address": address,
		},
		map[string]interface{}{
			"states": int64(states),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBinSensors records the eight binary sensor states of a module.
//
// Parameters:
//   - address: Bus address in the S000M007 form
//   - states: Bit i set means sensor i is active
func (c *Client) WriteBinSensors(address string, states uint8) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lcn_binsensors",
		map[string]string{
			"address": address,
		},
		map[string]interface{}{
			"states": int64(states),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteVariable records a variable, setpoint, or threshold reading.
//
// Parameters:
//   - address: Bus address in the S000M007 form
//   - variable: Variable name (e.g., "var1", "r1varsetpoint", "thrs1_1")
//   - value: Raw bus value
func (c *Client) WriteVariable(address string, variable string, value int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lcn_variable",
		map[string]string{
			"address":  address,
			"variable": variable,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"lines_rx": 1042, "lines_tx": 96})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// outputTag renders a zero-based output id as the one-based tag value
// used on the bus ("output1".."output4").
func outputTag(output int) string {
	switch output {
	case 0:
		return "output1"
	case 1:
		return "output2"
	case 2:
		return "output3"
	case 3:
		return "output4"
	default:
		return "output?"
	}
}
