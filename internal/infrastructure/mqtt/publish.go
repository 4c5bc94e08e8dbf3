package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing payloads (1MB), in line with typical broker limits.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic with the given QoS and retain=false.
//
// Publish never fails from the caller's point of view. The outcome is
// logged instead: a debug record with payload, QoS and message id on
// success, one "not connected" error when there is no broker connection,
// and otherwise an error carrying the library's message with punctuation
// removed and in lower case. Malformed arguments are logged the same way.
//
// Safe for concurrent use, including while Run is reconnecting.
func (b *Bridge) Publish(topic string, payload []byte, qos byte) {
	defer func() {
		if r := recover(); r != nil {
			b.publishErrors.Add(1)
			b.logger.Error("publish failed", "topic", topic, "error", normalizeError(fmt.Errorf("%v", r)))
		}
	}()

	mid, err := b.publish(topic, payload, qos)
	switch {
	case err == nil:
		b.published.Add(1)
		b.logger.Debug("published",
			"topic", topic,
			"payload", string(payload),
			"qos", qos,
			"mid", mid,
		)
	case errors.Is(err, ErrNotConnected):
		b.publishErrors.Add(1)
		b.logger.Error("not connected", "topic", topic)
	default:
		b.publishErrors.Add(1)
		b.logger.Error("publish failed", "topic", topic, "error", normalizeError(err))
	}
}

func (b *Bridge) publish(topic string, payload []byte, qos byte) (uint16, error) {
	if err := ValidateTopic(topic); err != nil {
		return 0, err
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	client := b.currentClient()
	if client == nil {
		return 0, ErrNotConnected
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(b.publishTimeout) {
		return 0, fmt.Errorf("%w after %v", ErrTimeout, b.publishTimeout)
	}
	if err := token.Error(); err != nil {
		if errors.Is(err, pahomqtt.ErrNotConnected) {
			return 0, ErrNotConnected
		}
		return 0, err
	}

	return messageID(token), nil
}

// messageID returns the packet id assigned to a publish, 0 for QoS 0.
func messageID(t pahomqtt.Token) uint16 {
	if pt, ok := t.(interface{ MessageID() uint16 }); ok {
		return pt.MessageID()
	}
	return 0
}

// normalizeError renders err without punctuation and in lower case,
// e.g. "Connection lost before Publish completed." becomes
// "connection lost before publish completed".
func normalizeError(err error) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, err.Error())
}
