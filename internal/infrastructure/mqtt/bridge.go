package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/queue"
)

// eventBuffer is the capacity of a session's callback channel.
const eventBuffer = 256

// State is the connection state of a Bridge.
type State int32

// Bridge states. A bridge cycles Disconnected -> Connecting -> Connected ->
// Disconnected until its context is cancelled, after which it is Stopped.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger is the logging interface used by the bridge.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats are running totals kept by a bridge.
type Stats struct {
	Received      uint64 `json:"received"`
	Dropped       uint64 `json:"dropped"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Connects      uint64 `json:"connects"`
}

// Bridge keeps one connection to an MQTT broker alive, subscribes to the
// event and response filters, and forwards every inbound message to an
// upstream queue as (topic levels, payload).
//
// Run owns the connection and processes the connect, disconnect and
// message callbacks one at a time on its own goroutine. Publish may be
// called from any goroutine at any time; it never returns an error and
// reports its outcome through the logger.
type Bridge struct {
	cfg            config.MQTTConfig
	upstream       queue.Producer
	logger         Logger
	publishTimeout time.Duration
	reconnectDelay time.Duration

	// newClient is swapped in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	running atomic.Bool

	mu        sync.RWMutex
	client    pahomqtt.Client
	state     State
	connected chan struct{} // closed while connected

	// disconnectNotices suppresses repeated disconnect log lines between
	// two successful connects. Only the Run goroutine touches it.
	disconnectNotices int

	received      atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	connects      atomic.Uint64
}

// New creates a bridge for the broker described by cfg. Messages are
// delivered to upstream, whose capacity belongs to the caller.
func New(cfg config.MQTTConfig, upstream queue.Producer, logger Logger) (*Bridge, error) {
	if upstream == nil {
		return nil, errors.New("mqtt: upstream queue is required")
	}
	if cfg.Broker.Host == "" {
		return nil, errors.New("mqtt: broker host is required")
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	for _, filter := range []string{cfg.EventTopic, cfg.ResponseTopic} {
		if err := ValidateFilter(filter); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	publishTimeout := time.Duration(cfg.PublishTimeout) * time.Second
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	reconnectDelay := time.Duration(cfg.Reconnect.Delay) * time.Second
	if reconnectDelay < minReconnectDelay {
		reconnectDelay = minReconnectDelay
	}

	return &Bridge{
		cfg:            cfg,
		upstream:       upstream,
		logger:         logger,
		publishTimeout: publishTimeout,
		reconnectDelay: reconnectDelay,
		newClient:      pahomqtt.NewClient,
		state:          StateDisconnected,
		connected:      make(chan struct{}),
	}, nil
}

// Run connects to the broker and keeps reconnecting until ctx is
// cancelled. There is no retry limit; attempts are separated by the
// configured reconnect delay. Run returns nil after a clean shutdown, or
// ErrAlreadyRunning if the bridge is already running.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)
	defer b.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := b.runSession(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("mqtt loop broke", "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(b.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runSession performs one connect attempt and, if it succeeds, dispatches
// callbacks until the connection ends. A connection lost is reported by
// the disconnect callback and is not returned as an error.
func (b *Bridge) runSession(ctx context.Context) (err error) {
	s := newSession()
	defer close(s.done)

	b.setState(StateConnecting)
	client := b.newClient(buildClientOptions(b.cfg, s))

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		b.setState(StateDisconnected)
		return nil
	}

	if err := token.Error(); err != nil {
		b.setState(StateDisconnected)
		if rc := returnCode(token); rc != packets.Accepted && rc != packets.ErrNetworkError {
			// The broker answered and refused us.
			b.handleConnect(client, rc, nil)
			return nil
		}
		b.logger.Error("could not connect",
			"host", b.cfg.Broker.Host,
			"port", b.cfg.Broker.Port,
			"error", err,
		)
		return nil
	}

	b.setClient(client)
	defer b.clearClient()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			client.Disconnect(0)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			client.Disconnect(defaultDisconnectQuiesce)
			b.handleDisconnect(nil)
			return nil

		case ev := <-s.events:
			switch ev.kind {
			case eventConnect:
				b.handleConnect(client, packets.Accepted, s.messageHandler)
			case eventMessage:
				b.handleMessage(ev.topic, ev.payload)
			case eventDisconnect:
				b.handleDisconnect(ev.err)
				return nil
			}
		}
	}
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsConnected reports whether the bridge holds an open broker connection.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateConnected && b.client != nil && b.client.IsConnectionOpen()
}

// HealthCheck returns ErrNotConnected unless the bridge is connected.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// WaitConnected blocks until the bridge is connected or ctx is done.
func (b *Bridge) WaitConnected(ctx context.Context) error {
	b.mu.RLock()
	ch := b.connected
	b.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:      b.received.Load(),
		Dropped:       b.dropped.Load(),
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Connects:      b.connects.Load(),
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) setClient(client pahomqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
	b.state = StateConnected
	close(b.connected)
}

func (b *Bridge) clearClient() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	if b.state == StateConnected {
		b.state = StateDisconnected
	}
	b.connected = make(chan struct{})
}

func (b *Bridge) currentClient() pahomqtt.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// returnCode extracts the CONNACK return code from a connect token.
func returnCode(t pahomqtt.Token) byte {
	if ct, ok := t.(interface{ ReturnCode() byte }); ok {
		return ct.ReturnCode()
	}
	return packets.ErrNetworkError
}

// connackReason turns a CONNACK return code into readable text.
func connackReason(rc byte) string {
	if reason, ok := packets.ConnackReturnCodes[rc]; ok {
		return reason
	}
	return fmt.Sprintf("Connection Refused: unknown return code %d", rc)
}
