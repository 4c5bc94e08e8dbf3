package queue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, capacity int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	q, err := NewRedis(context.Background(), RedisConfig{
		Addr:     srv.Addr(),
		Key:      "test:inbound",
		Capacity: capacity,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, srv
}

func TestRedis_TryPutAndPop(t *testing.T) {
	q, _ := newTestRedis(t, 10)

	require.NoError(t, q.TryPut(Message{Path: []string{"evt", "device1", "state"}, Payload: []byte("on")}))
	require.NoError(t, q.TryPut(Message{Path: []string{"resp", "device2"}, Payload: []byte("ok")}))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	m, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"evt", "device1", "state"}, m.Path)
	assert.Equal(t, []byte("on"), m.Payload)

	m, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resp/device2", m.Topic())
}

func TestRedis_TryPutFull(t *testing.T) {
	q, srv := newTestRedis(t, 1)

	require.NoError(t, q.TryPut(Message{Path: []string{"a"}}))
	assert.ErrorIs(t, q.TryPut(Message{Path: []string{"b"}}), ErrFull)

	items, err := srv.List("test:inbound")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRedis_PayloadIsJSON(t *testing.T) {
	q, srv := newTestRedis(t, 5)
	require.NoError(t, q.TryPut(Message{Path: []string{"evt", "d"}, Payload: []byte("on")}))

	items, err := srv.List("test:inbound")
	require.NoError(t, err)
	require.Len(t, items, 1)
	// []byte marshals as base64: "on" -> "b24="
	assert.JSONEq(t, `{"path":["evt","d"],"payload":"b24="}`, items[0])
}

func TestRedis_PopCancelled(t *testing.T) {
	q, _ := newTestRedis(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedis_Closed(t *testing.T) {
	q, _ := newTestRedis(t, 5)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.TryPut(Message{Path: []string{"a"}}), ErrClosed)
	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRedis_Errors(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1", Key: "k", Capacity: 1})
	assert.Error(t, err, "unreachable server")

	_, err = NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1", Capacity: 1})
	assert.Error(t, err, "missing key")

	_, err = NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1", Key: "k"})
	assert.Error(t, err, "zero capacity")
}

// silentServer accepts connections and never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()
	return l.Addr().String()
}

func TestRedis_TryPutBoundedByOpTimeout(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:                  silentServer(t),
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	q := &Redis{client: client, key: "test:inbound", capacity: 5, opTimeout: 100 * time.Millisecond}
	t.Cleanup(func() { _ = q.Close() })

	start := time.Now()
	err := q.TryPut(Message{Path: []string{"evt", "d"}, Payload: []byte("on")})
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, time.Second, "TryPut waited past its timeout")
}

func TestNewRedis_DefaultOpTimeout(t *testing.T) {
	q, _ := newTestRedis(t, 1)
	assert.Equal(t, 200*time.Millisecond, q.opTimeout)
}
