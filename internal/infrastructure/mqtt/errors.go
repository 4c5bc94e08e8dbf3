package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is reported when publishing without a broker connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrAlreadyRunning is returned when Run is called on a bridge that is
	// already running.
	ErrAlreadyRunning = errors.New("mqtt: bridge already running")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic or one containing wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidFilter is returned for a malformed subscription filter.
	ErrInvalidFilter = errors.New("mqtt: invalid topic filter")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout is returned when the broker does not answer in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrHandlerPanic is returned by a session whose callback panicked.
	ErrHandlerPanic = errors.New("mqtt: callback panic")
)
