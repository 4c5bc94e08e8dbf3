package mqtt

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/queue"
)

func newTestBridge(t *testing.T, capacity int) (*Bridge, *queue.Channel, *recordingLogger) {
	t.Helper()

	q := queue.NewChannel(capacity)
	log := &recordingLogger{}
	b, err := New(testConfig(), q, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.reconnectDelay = 10 * time.Millisecond
	return b, q, log
}

// startBridge runs b in the background and returns a stop function that
// cancels it and waits for Run to return.
func startBridge(t *testing.T, b *Bridge) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v, want nil", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	}
	t.Cleanup(stop)
	return stop
}

func popMessage(t *testing.T, q *queue.Channel) queue.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	return msg
}

// =============================================================================
// Construction
// =============================================================================

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(cfg *config.MQTTConfig)
		wantErr error
	}{
		{name: "valid"},
		{name: "bad qos", edit: func(c *config.MQTTConfig) { c.QoS = 3 }, wantErr: ErrInvalidQoS},
		{name: "bad event filter", edit: func(c *config.MQTTConfig) { c.EventTopic = "evt/#/x" }, wantErr: ErrInvalidFilter},
		{name: "empty response filter", edit: func(c *config.MQTTConfig) { c.ResponseTopic = "" }, wantErr: ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.edit != nil {
				tt.edit(&cfg)
			}
			_, err := New(cfg, queue.NewChannel(1), nil)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRequiresHostAndQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Host = ""
	if _, err := New(cfg, queue.NewChannel(1), nil); err == nil {
		t.Error("New() with empty host: expected error")
	}
	if _, err := New(testConfig(), nil, nil); err == nil {
		t.Error("New() with nil queue: expected error")
	}
}

func TestNewReconnectDelayFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.Delay = 0
	b, err := New(cfg, queue.NewChannel(1), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.reconnectDelay != minReconnectDelay {
		t.Errorf("reconnectDelay = %v, want %v", b.reconnectDelay, minReconnectDelay)
	}
	if b.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", b.State())
	}
}

// =============================================================================
// Callback handlers
// =============================================================================

func TestHandleConnectAcceptedSubscribesBothFilters(t *testing.T) {
	b, _, log := newTestBridge(t, 4)
	client := acceptingClient()

	b.handleConnect(client, packets.Accepted, nil)

	want := []subscribeCall{{filter: "evt/#", qos: 1}, {filter: "resp/#", qos: 1}}
	if got := client.subscribed(); !reflect.DeepEqual(got, want) {
		t.Errorf("subscriptions = %v, want %v", got, want)
	}
	if b.disconnectNotices != 0 {
		t.Errorf("disconnectNotices = %d, want 0", b.disconnectNotices)
	}

	entries := log.find("info", "connected")
	if len(entries) != 1 {
		t.Fatalf("info connected entries = %d, want 1", len(entries))
	}
	if host := entries[0].attr("host"); host != "localhost" {
		t.Errorf("host attr = %v, want localhost", host)
	}

	log.waitFor(t, "debug", "subscribed", 2)
	if b.Stats().Connects != 1 {
		t.Errorf("Stats().Connects = %d, want 1", b.Stats().Connects)
	}
}

func TestHandleConnectRefused(t *testing.T) {
	b, _, log := newTestBridge(t, 4)
	client := acceptingClient()
	b.disconnectNotices = 2

	b.handleConnect(client, 5, nil)

	entries := log.find("error", "could not connect")
	if len(entries) != 1 {
		t.Fatalf("error entries = %d, want 1", len(entries))
	}
	if reason := entries[0].attr("reason"); reason != "Connection Refused: Not Authorised" {
		t.Errorf("reason = %v, want %q", reason, "Connection Refused: Not Authorised")
	}
	if got := client.subscribed(); len(got) != 0 {
		t.Errorf("subscriptions = %v, want none", got)
	}
	if b.disconnectNotices != 2 {
		t.Errorf("disconnectNotices = %d, want unchanged 2", b.disconnectNotices)
	}
	if log.count("info") != 0 {
		t.Error("refused connect must not log at info")
	}
}

func TestConnackReasonUnknown(t *testing.T) {
	if got := connackReason(42); got != "Connection Refused: unknown return code 42" {
		t.Errorf("connackReason(42) = %q", got)
	}
	if got := connackReason(packets.ErrRefusedBadUsernameOrPassword); got != packets.ConnackReturnCodes[4] {
		t.Errorf("connackReason(4) = %q", got)
	}
}

func TestSubscribeFailuresAreLogged(t *testing.T) {
	tests := []struct {
		name  string
		token func(filter string) *fakeToken
		msg   string
	}{
		{
			name:  "error",
			token: func(string) *fakeToken { return doneToken(errors.New("boom")) },
			msg:   "subscribe failed",
		},
		{
			name: "rejected",
			token: func(filter string) *fakeToken {
				tok := doneToken(nil)
				tok.result = map[string]byte{filter: subscribeFailure}
				return tok
			},
			msg: "subscribe rejected by broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, log := newTestBridge(t, 4)
			client := acceptingClient()
			client.subscribeFunc = tt.token

			b.handleConnect(client, packets.Accepted, nil)

			log.waitFor(t, "warn", tt.msg, 2)
			if n := len(log.find("debug", "subscribed")); n != 0 {
				t.Errorf("debug subscribed entries = %d, want 0", n)
			}
		})
	}
}

func TestHandleDisconnectLogsOncePerOutage(t *testing.T) {
	b, _, log := newTestBridge(t, 4)
	lost := errors.New("EOF")

	for range 5 {
		b.handleDisconnect(lost)
	}

	if n := len(log.find("warn", "disconnected unexpectedly")); n != 1 {
		t.Errorf("disconnect log entries = %d, want 1", n)
	}
	if b.disconnectNotices != 5 {
		t.Errorf("disconnectNotices = %d, want 5", b.disconnectNotices)
	}
}

func TestHandleDisconnectResetsAfterConnect(t *testing.T) {
	b, _, log := newTestBridge(t, 4)
	lost := errors.New("EOF")

	b.handleDisconnect(lost)
	b.handleDisconnect(lost)
	b.handleConnect(acceptingClient(), packets.Accepted, nil)
	b.handleDisconnect(lost)

	if n := len(log.find("warn", "disconnected unexpectedly")); n != 2 {
		t.Errorf("disconnect log entries = %d, want 2", n)
	}
	if b.disconnectNotices != 1 {
		t.Errorf("disconnectNotices = %d, want 1", b.disconnectNotices)
	}
}

func TestHandleDisconnectCleanIsInfo(t *testing.T) {
	b, _, log := newTestBridge(t, 4)

	b.handleDisconnect(nil)

	if n := len(log.find("info", "disconnected")); n != 1 {
		t.Errorf("info disconnected entries = %d, want 1", n)
	}
	if log.count("warn") != 0 {
		t.Error("clean disconnect must not warn")
	}
}

func TestHandleMessageForwardsSplitTopic(t *testing.T) {
	b, q, log := newTestBridge(t, 4)

	b.handleMessage("evt/device1/state", []byte("on"))

	msg := popMessage(t, q)
	if want := []string{"evt", "device1", "state"}; !reflect.DeepEqual(msg.Path, want) {
		t.Errorf("Path = %v, want %v", msg.Path, want)
	}
	if string(msg.Payload) != "on" {
		t.Errorf("Payload = %q, want %q", msg.Payload, "on")
	}
	if log.count("error") != 0 {
		t.Error("unexpected error log")
	}
	if b.Stats().Received != 1 {
		t.Errorf("Stats().Received = %d, want 1", b.Stats().Received)
	}
}

func TestHandleMessageKeepsEmptyLevels(t *testing.T) {
	b, q, _ := newTestBridge(t, 4)

	b.handleMessage("/evt//x", nil)

	msg := popMessage(t, q)
	if want := []string{"", "evt", "", "x"}; !reflect.DeepEqual(msg.Path, want) {
		t.Errorf("Path = %q, want %q", msg.Path, want)
	}
}

func TestHandleMessageQueueFullDrops(t *testing.T) {
	b, q, log := newTestBridge(t, 1)

	b.handleMessage("evt/a", []byte("1"))
	b.handleMessage("evt/b", []byte("2"))

	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", q.Len())
	}
	entries := log.find("error", "dropping message")
	if len(entries) != 1 {
		t.Fatalf("drop entries = %d, want 1", len(entries))
	}
	if err, _ := entries[0].attr("error").(error); !errors.Is(err, queue.ErrFull) {
		t.Errorf("error attr = %v, want queue.ErrFull", entries[0].attr("error"))
	}
	if got := popMessage(t, q); string(got.Payload) != "1" {
		t.Errorf("kept payload = %q, want the first message", got.Payload)
	}
	if b.Stats().Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", b.Stats().Dropped)
	}
}

type panickingProducer struct{}

func (panickingProducer) TryPut(queue.Message) error { panic("broken queue") }

func TestHandleMessageRecoversFromPanickingQueue(t *testing.T) {
	log := &recordingLogger{}
	b, err := New(testConfig(), panickingProducer{}, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	b.handleMessage("evt/a", []byte("x"))

	if n := len(log.find("error", "dropping message")); n != 1 {
		t.Errorf("drop entries = %d, want 1", n)
	}
}

// =============================================================================
// Reconnect loop
// =============================================================================

func TestRunConnectsSubscribesAndForwards(t *testing.T) {
	b, q, log := newTestBridge(t, 8)
	script := newClientScript(acceptingClient())
	b.newClient = script.factory

	stop := startBridge(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected() error = %v", err)
	}
	log.waitFor(t, "info", "connected", 1)

	client := script.waitBuilt(t, 1)
	waitUntil(t, 2*time.Second, func() bool { return len(client.subscribed()) == 2 }, "bridge did not subscribe")

	if !b.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.deliver("evt/device1/state", []byte("on"))
	msg := popMessage(t, q)
	if msg.Topic() != "evt/device1/state" || string(msg.Payload) != "on" {
		t.Errorf("got %s %q, want evt/device1/state \"on\"", msg.Topic(), msg.Payload)
	}

	stop()

	if b.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", b.State())
	}
	if client.disconnectCount() != 1 {
		t.Errorf("client disconnects = %d, want 1", client.disconnectCount())
	}
	if n := len(log.find("info", "disconnected")); n != 1 {
		t.Errorf("info disconnected entries = %d, want 1", n)
	}
	if !errors.Is(b.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("HealthCheck() after stop: want ErrNotConnected")
	}
}

func TestRunRefusedConnectRetries(t *testing.T) {
	b, _, log := newTestBridge(t, 8)
	refused := refusingClient(5)
	script := newClientScript(refused, acceptingClient())
	b.newClient = script.factory

	startBridge(t, b)
	log.waitFor(t, "info", "connected", 1)

	entries := log.find("error", "could not connect")
	if len(entries) != 1 {
		t.Fatalf("refusal entries = %d, want 1", len(entries))
	}
	if reason := entries[0].attr("reason"); reason != "Connection Refused: Not Authorised" {
		t.Errorf("reason = %v", reason)
	}
	if got := refused.subscribed(); len(got) != 0 {
		t.Errorf("refused client subscriptions = %v, want none", got)
	}
	if n := len(log.find("warn", "disconnected unexpectedly")); n != 0 {
		t.Errorf("refusal produced %d disconnect notices", n)
	}
}

func TestRunUnreachableBrokerLogsAndRetries(t *testing.T) {
	b, _, log := newTestBridge(t, 8)
	script := newClientScript(unreachableClient(errors.New("dial tcp: connection refused")), acceptingClient())
	b.newClient = script.factory

	startBridge(t, b)
	log.waitFor(t, "info", "connected", 1)

	entries := log.find("error", "could not connect")
	if len(entries) != 1 {
		t.Fatalf("could not connect entries = %d, want 1", len(entries))
	}
	if port := entries[0].attr("port"); port != 1883 {
		t.Errorf("port attr = %v, want 1883", port)
	}
	if entries[0].attr("reason") != nil {
		t.Error("network failure must not carry a CONNACK reason")
	}
}

func TestRunReconnectsAfterConnectionLost(t *testing.T) {
	b, q, log := newTestBridge(t, 8)
	first := acceptingClient()
	second := acceptingClient()
	script := newClientScript(first, second)
	b.newClient = script.factory

	startBridge(t, b)
	log.waitFor(t, "info", "connected", 1)

	first.drop(errors.New("pingresp not received, disconnecting"))
	log.waitFor(t, "warn", "disconnected unexpectedly", 1)
	log.waitFor(t, "info", "connected", 2)

	if b.Stats().Connects != 2 {
		t.Errorf("Stats().Connects = %d, want 2", b.Stats().Connects)
	}

	// Callbacks from the old connection are discarded.
	first.deliver("evt/stale", []byte("old"))
	waitUntil(t, 2*time.Second, func() bool { return len(second.subscribed()) == 2 }, "second client did not subscribe")
	second.deliver("evt/fresh", []byte("new"))

	msg := popMessage(t, q)
	if msg.Topic() != "evt/fresh" {
		t.Errorf("first queued topic = %s, want evt/fresh", msg.Topic())
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
}

func TestRunCancelDuringConnect(t *testing.T) {
	b, _, _ := newTestBridge(t, 8)
	pending := &fakeClient{connectToken: newToken()}
	script := newClientScript(pending)
	b.newClient = script.factory

	stop := startBridge(t, b)
	script.waitBuilt(t, 1)
	waitUntil(t, time.Second, func() bool { return b.State() == StateConnecting }, "bridge never started connecting")

	stop()

	if pending.disconnectCount() != 1 {
		t.Errorf("pending client disconnects = %d, want 1", pending.disconnectCount())
	}
	if b.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", b.State())
	}
}

func TestRunRecoversFromHandlerPanic(t *testing.T) {
	b, _, log := newTestBridge(t, 8)
	broken := acceptingClient()
	broken.subscribeFunc = func(string) *fakeToken { panic("subscribe exploded") }
	script := newClientScript(broken, acceptingClient())
	b.newClient = script.factory

	startBridge(t, b)

	entries := log.waitFor(t, "error", "mqtt loop broke", 1)
	if err, _ := entries[0].attr("error").(error); !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("error attr = %v, want ErrHandlerPanic", entries[0].attr("error"))
	}
	log.waitFor(t, "info", "connected", 2)
}

func TestRunAlreadyRunning(t *testing.T) {
	b, _, _ := newTestBridge(t, 8)
	b.newClient = newClientScript(acceptingClient()).factory

	startBridge(t, b)
	waitUntil(t, time.Second, func() bool { return b.running.Load() }, "bridge did not start")

	if err := b.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestWaitConnectedHonoursContext(t *testing.T) {
	b, _, _ := newTestBridge(t, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.WaitConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitConnected() error = %v, want deadline exceeded", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateStopped:      "stopped",
		State(9):          "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}
