package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// popSlice bounds each BLPOP so that Pop notices cancellation promptly.
const popSlice = time.Second

const defaultOpTimeout = 200 * time.Millisecond

// cappedPush appends ARGV[2] to KEYS[1] unless the list already holds
// ARGV[1] entries. Returns the new length, or -1 when full.
var cappedPush = redis.NewScript(`
if redis.call("LLEN", KEYS[1]) >= tonumber(ARGV[1]) then
	return -1
end
return redis.call("RPUSH", KEYS[1], ARGV[2])
`)

// RedisConfig holds the settings for a Redis-backed queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Capacity int
	// OpTimeout bounds each TryPut round trip. Zero means 200ms.
	OpTimeout time.Duration
}

// Redis is a capped queue stored in a Redis list. Messages are JSON encoded
// so that consumers in other processes can read them.
type Redis struct {
	client    *redis.Client
	key       string
	capacity  int
	opTimeout time.Duration
	closed    atomic.Bool
}

// NewRedis connects to Redis and pings it before returning.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Key == "" {
		return nil, errors.New("queue: redis key is required")
	}
	if cfg.Capacity < 1 {
		return nil, errors.New("queue: capacity must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Lets the TryPut deadline apply to socket reads and writes.
		ContextTimeoutEnabled: true,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	return &Redis{
		client:    client,
		key:       cfg.Key,
		capacity:  cfg.Capacity,
		opTimeout: timeout,
	}, nil
}

// TryPut appends m to the list. It returns ErrFull when the list is at
// capacity; the check and the push happen atomically on the server.
// Unlike Channel.TryPut it makes a network round trip, bounded by
// OpTimeout; a slow or unreachable Redis fails the put after that long.
func (r *Redis) TryPut(m Message) error {
	if r.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()

	n, err := cappedPush.Run(ctx, r.client, []string{r.key}, r.capacity, data).Int64()
	if err != nil {
		return fmt.Errorf("pushing to redis: %w", err)
	}
	if n < 0 {
		return ErrFull
	}
	return nil
}

// Pop removes the oldest message, waiting until one arrives or ctx is done.
func (r *Redis) Pop(ctx context.Context) (Message, error) {
	for {
		if r.closed.Load() {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		res, err := r.client.BLPop(ctx, popSlice, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if r.closed.Load() {
				return Message{}, ErrClosed
			}
			return Message{}, fmt.Errorf("popping from redis: %w", err)
		}

		// BLPOP replies with [key, value].
		var m Message
		if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
			return Message{}, fmt.Errorf("decoding message: %w", err)
		}
		return m, nil
	}
}

// Len returns the current list length.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

// Close releases the Redis connection. Buffered messages stay in Redis.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
