// Package api implements the HTTP REST API of the MQTT connector.
//
// This package provides:
//   - health and metrics endpoints reporting the broker connection
//   - device catalogue endpoints backed by the device registry
//   - a publish endpoint that hands messages to the MQTT bridge
//   - a WebSocket stream of inbound messages, filtered by MQTT topic filters
//   - an audit journal of device changes and publishes made through the API
//   - a middleware stack for request IDs, logging, recovery and body limits
//
// All routes live under /api/v1:
//
//	GET    /health
//	GET    /metrics
//	GET    /devices[?state=online|offline]
//	POST   /devices
//	GET    /devices/{id}
//	DELETE /devices/{id}
//	POST   /publish
//	GET    /audit[?action=&entity_type=&entity_id=&limit=&offset=]
//	GET    /ws
//
// The /ws endpoint streams inbound broker messages to WebSocket clients.
// A client sends {"type":"subscribe","payload":{"filters":["evt/#"]}} and
// then receives one "message" frame per matching message.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// The API keeps answering while the bridge is reconnecting. Publish
// requests are accepted either way; the bridge logs "not connected" for
// messages it could not send.
package api
