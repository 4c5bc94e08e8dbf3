// Package mqtt bridges an MQTT broker and the connector's inbound queue.
//
// A Bridge owns a single broker connection. Run connects, subscribes to
// the configured event and response filters, and keeps reconnecting with
// a fixed pause until its context is cancelled. Every message received is
// split on "/" and offered to the upstream queue without blocking; when
// the queue refuses it the message is logged and dropped.
//
// # Callbacks
//
// The paho client invokes its callbacks on library goroutines. Here they
// only post events to a per-connection channel, and Run handles those
// events one at a time: connect, disconnect and message handling never
// overlap each other, though they do run alongside Publish.
//
// Disconnect notices are logged once per outage. The first disconnect
// after a successful connect is logged (info when requested, warning when
// unexpected) and further ones stay silent until the next connect.
//
// # Publishing
//
// Publish always returns normally. Callers that need to know the outcome
// read the logs; the bridge distinguishes "not connected" from every other
// failure.
//
// # Usage
//
//	bridge, err := mqtt.New(cfg.MQTT, inbound, logger.With("component", "mqtt"))
//	if err != nil {
//	    return err
//	}
//	go bridge.Run(ctx)
//
//	bridge.Publish("command/device1/switch", []byte("on"), 1)
//
// SetLibraryLogger forwards the paho library's own diagnostics to a
// separate logger.
package mqtt
