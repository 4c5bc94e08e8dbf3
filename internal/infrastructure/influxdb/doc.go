// Package influxdb writes connector telemetry to InfluxDB v2.
//
// Two measurements are recorded: mqtt_messages gets one point per inbound
// message (kind, device, size) and mqtt_bridge gets a periodic snapshot
// of the bridge and ingest counters.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteMessageMetric("event", "device1", 2)
//
// Writes are batched and never block; batch failures go to the SetOnError
// callback wrapped in ErrWriteFailed.
package influxdb
