package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the connector.
const (
	MeasurementMessages = "mqtt_messages"
	MeasurementBridge   = "mqtt_bridge"
)

// WriteMessageMetric records one inbound MQTT message.
//
// kind is the classification (event, response or other) and deviceID
// may be empty. The write is non-blocking; data is batched and sent
// asynchronously.
//
//	client.WriteMessageMetric("event", "device1", 2)
func (c *Client) WriteMessageMetric(kind, deviceID string, bytes int) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{"kind": kind}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}

	point := write.NewPoint(
		MeasurementMessages,
		tags,
		map[string]interface{}{
			"bytes": bytes,
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
//	client.WritePoint("mqtt_bridge",
//	    map[string]string{"module_id": "mqtt-connector"},
//	    map[string]interface{}{"received": 120, "dropped": 0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
