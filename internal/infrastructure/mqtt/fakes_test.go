package mqtt

import (
	"fmt"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
)

// =============================================================================
// Fake paho token
// =============================================================================

type fakeToken struct {
	done   chan struct{}
	err    error
	rc     byte
	mid    uint16
	result map[string]byte
}

func newToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func doneToken(err error) *fakeToken {
	t := newToken()
	t.err = err
	close(t.done)
	return t
}

func (t *fakeToken) complete() { close(t.done) }

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{}   { return t.done }
func (t *fakeToken) Error() error            { return t.err }
func (t *fakeToken) ReturnCode() byte        { return t.rc }
func (t *fakeToken) MessageID() uint16       { return t.mid }
func (t *fakeToken) Result() map[string]byte { return t.result }
func (t *fakeToken) SessionPresent() bool    { return false }
func (t *fakeToken) String() string          { return fmt.Sprintf("token(rc=%d)", t.rc) }

// =============================================================================
// Fake paho client
// =============================================================================

type subscribeCall struct {
	filter string
	qos    byte
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records calls and lets tests fire the callbacks paho would.
type fakeClient struct {
	mu   sync.Mutex
	opts *pahomqtt.ClientOptions

	connectToken  *fakeToken
	publishToken  func() *fakeToken
	subscribeFunc func(filter string) *fakeToken

	open          bool
	subscriptions []subscribeCall
	routes        map[string]pahomqtt.MessageHandler
	published     []publishCall
	disconnects   int
}

// acceptingClient connects successfully and fires OnConnect the way paho does.
func acceptingClient() *fakeClient {
	return &fakeClient{connectToken: doneToken(nil)}
}

// refusingClient gets a CONNACK with the given return code.
func refusingClient(rc byte) *fakeClient {
	t := doneToken(packets.ConnErrors[rc])
	t.rc = rc
	return &fakeClient{connectToken: t}
}

// unreachableClient fails before any CONNACK arrives.
func unreachableClient(err error) *fakeClient {
	t := doneToken(err)
	t.rc = packets.ErrNetworkError
	return &fakeClient{connectToken: t}
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Connect() pahomqtt.Token {
	t := c.connectToken
	go func() {
		<-t.done
		if t.err != nil {
			return
		}
		c.mu.Lock()
		c.open = true
		onConnect := c.opts.OnConnect
		c.mu.Unlock()
		if onConnect != nil {
			onConnect(c)
		}
	}()
	return t
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}
	c.published = append(c.published, publishCall{topic: topic, qos: qos, retained: retained, payload: body})
	factory := c.publishToken
	c.mu.Unlock()

	if factory != nil {
		return factory()
	}
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(filter string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, subscribeCall{filter: filter, qos: qos})
	if c.routes == nil {
		c.routes = make(map[string]pahomqtt.MessageHandler)
	}
	c.routes[filter] = callback
	fn := c.subscribeFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(filter)
	}
	t := doneToken(nil)
	t.result = map[string]byte{filter: qos}
	return t
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token { return doneToken(nil) }

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver routes an inbound message the way paho's router does: through
// a matching subscription handler or the default publish handler.
func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	var handler pahomqtt.MessageHandler
	for filter, h := range c.routes {
		if h != nil && MatchTopic(filter, topic) {
			handler = h
			break
		}
	}
	if handler == nil {
		handler = c.opts.DefaultPublishHandler
	}
	c.mu.Unlock()

	handler(c, &fakeMessage{topic: topic, payload: payload})
}

// drop simulates a lost connection.
func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	c.open = false
	onLost := c.opts.OnConnectionLost
	c.mu.Unlock()
	go onLost(c, err)
}

func (c *fakeClient) subscribed() []subscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscribeCall(nil), c.subscriptions...)
}

func (c *fakeClient) publishes() []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishCall(nil), c.published...)
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// =============================================================================
// Recording logger
// =============================================================================

type logEntry struct {
	level string
	msg   string
	args  []any
}

// attr returns the value logged under key, or nil.
func (e logEntry) attr(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if k, ok := e.args[i].(string); ok && k == key {
			return e.args[i+1]
		}
	}
	return nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

// find returns every entry with the given level and message.
func (l *recordingLogger) find(level, msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// waitFor polls until at least n matching entries exist.
func (l *recordingLogger) waitFor(t *testing.T, level, msg string, n int) []logEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := l.find(level, msg)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s %q log entries, got %d", n, level, msg, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// testConfig returns the broker settings used across the bridge tests.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "mqtt-connector-test",
		},
		CleanSession:  true,
		KeepAlive:     30,
		QoS:           1,
		EventTopic:    "evt/#",
		ResponseTopic: "resp/#",
		Reconnect:     config.MQTTReconnectConfig{Delay: 1},
	}
}

// clientScript hands out fake clients in order and records the options
// each one was built with. The last client is reused once the script
// runs out.
type clientScript struct {
	mu      sync.Mutex
	clients []*fakeClient
	built   []*fakeClient
	next    int
}

func newClientScript(clients ...*fakeClient) *clientScript {
	return &clientScript{clients: clients}
}

func (s *clientScript) factory(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c *fakeClient
	if s.next < len(s.clients) {
		c = s.clients[s.next]
		s.next++
	} else {
		// Fresh copy of the final template so state is not shared.
		last := s.clients[len(s.clients)-1]
		c = &fakeClient{connectToken: last.connectToken, publishToken: last.publishToken}
	}
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()

	s.built = append(s.built, c)
	return c
}

// waitBuilt returns the n-th client (1-based) once it has been built.
func (s *clientScript) waitBuilt(t *testing.T, n int) *fakeClient {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.built) >= n {
			c := s.built[n-1]
			s.mu.Unlock()
			return c
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for client #%d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, check func() bool, failMsg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(failMsg)
}
