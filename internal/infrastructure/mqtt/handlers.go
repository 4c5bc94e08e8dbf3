package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/mqtt-connector/internal/queue"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventMessage
)

// event is a paho callback captured for the dispatcher.
type event struct {
	kind    eventKind
	err     error
	topic   string
	payload []byte
}

// session is the callback channel of one connection attempt. paho calls
// the handlers on its own goroutines; they only hand events over. Once
// the session's dispatcher has exited, done is closed and any late
// callback is discarded instead of blocking the library.
type session struct {
	events chan event
	done   chan struct{}
}

func newSession() *session {
	return &session{
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *session) messageHandler(_ pahomqtt.Client, msg pahomqtt.Message) {
	s.post(event{kind: eventMessage, topic: msg.Topic(), payload: msg.Payload()})
}

// handleConnect runs for every CONNACK. On acceptance it resets the
// disconnect notice counter and subscribes to both filters; a refusal is
// logged with its reason and nothing else happens.
func (b *Bridge) handleConnect(client pahomqtt.Client, rc byte, route pahomqtt.MessageHandler) {
	if rc != packets.Accepted {
		b.logger.Error("could not connect",
			"host", b.cfg.Broker.Host,
			"rc", rc,
			"reason", connackReason(rc),
		)
		return
	}

	b.disconnectNotices = 0
	b.connects.Add(1)
	b.logger.Info("connected", "host", b.cfg.Broker.Host)

	b.subscribe(client, b.cfg.EventTopic, route)
	b.subscribe(client, b.cfg.ResponseTopic, route)
}

// subscribe issues a SUBSCRIBE without waiting for the SUBACK; the
// outcome is checked on a separate goroutine so the dispatcher never stalls.
func (b *Bridge) subscribe(client pahomqtt.Client, filter string, route pahomqtt.MessageHandler) {
	qos := byte(b.cfg.QoS)
	token := client.Subscribe(filter, qos, route)

	go func() {
		if !token.WaitTimeout(subscribeTimeout) {
			b.logger.Warn("subscribe not acknowledged", "topic", filter, "timeout", subscribeTimeout)
			return
		}
		if err := token.Error(); err != nil {
			b.logger.Warn("subscribe failed", "topic", filter, "error", err)
			return
		}
		if st, ok := token.(interface{ Result() map[string]byte }); ok {
			if code, found := st.Result()[filter]; found && code == subscribeFailure {
				b.logger.Warn("subscribe rejected by broker", "topic", filter)
				return
			}
		}
		b.logger.Debug("subscribed", "topic", filter, "qos", qos)
	}()
}

// handleDisconnect logs the first disconnect after a successful connect,
// at info level for a clean disconnect (nil err) and warning otherwise.
// Later disconnects stay quiet until the next successful connect.
func (b *Bridge) handleDisconnect(err error) {
	if b.disconnectNotices < 1 {
		if err == nil {
			b.logger.Info("disconnected", "host", b.cfg.Broker.Host)
		} else {
			b.logger.Warn("disconnected unexpectedly", "host", b.cfg.Broker.Host, "error", err)
		}
	}
	b.disconnectNotices++
}

// handleMessage forwards one inbound message without blocking. Anything
// that goes wrong is logged and the message is dropped.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.dropped.Add(1)
			b.logger.Error("dropping message", "topic", topic, "panic", r)
		}
	}()

	msg := queue.Message{Path: SplitTopic(topic), Payload: payload}
	if err := b.upstream.TryPut(msg); err != nil {
		b.dropped.Add(1)
		b.logger.Error("dropping message", "topic", topic, "error", err)
		return
	}
	b.received.Add(1)
}
