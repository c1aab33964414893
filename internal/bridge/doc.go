// Package bridge connects an LCN bus to MQTT.
//
// Commands published on lcn/command/{address} are validated, translated
// into bus commands and sent through the module's acknowledge-gated
// queue. Status reports, acknowledgements and unsolicited events coming
// off the bus are published on lcn/state, lcn/ack and lcn/event topics.
// Status values are additionally recorded in InfluxDB and every module
// seen on the bus is tracked in the persistent inventory.
//
// The protocol core deliberately never reconnects on its own; the bridge
// owns that policy and re-establishes the PCHK session with exponential
// backoff whenever it drops.
//
// Usage:
//
//	b, err := bridge.New(bridge.Options{
//	    Config:    cfg,
//	    MQTT:      mqttClient,
//	    Bus:       lcn.NewConnection(busCfg),
//	    Influx:    influxClient,
//	    Inventory: repo,
//	    Version:   version,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(); err != nil {
//	    return err
//	}
//	defer b.Stop()
package bridge
