// Package ingest consumes the messages the MQTT bridge forwards.
//
// A Processor pops messages from the bridge's queue and classifies each
// one against the event and response filters. Events mark their device
// as seen in the device registry, discovering it on first contact. Every
// message, whatever its kind, is counted in the optional metrics sink.
//
// The processor owns no connection of its own: it stops when its context
// is cancelled or the queue is closed.
package ingest
