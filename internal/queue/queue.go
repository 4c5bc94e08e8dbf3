package queue

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors returned by queue backends.
var (
	// ErrFull is returned by TryPut when the queue is at capacity.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue: closed")
)

// Message is one inbound MQTT message: the topic split into its
// "/"-separated levels, and the raw payload.
//
// A Message is not modified after it is enqueued.
type Message struct {
	Path    []string `json:"path"`
	Payload []byte   `json:"payload"`
}

// Topic rejoins the path into the original topic string.
func (m Message) Topic() string {
	return strings.Join(m.Path, "/")
}

// Producer is the write side of a queue.
type Producer interface {
	// TryPut enqueues m without waiting for room. Networked backends may
	// spend up to their operation timeout reaching the store.
	TryPut(m Message) error
}

// Consumer is the read side of a queue.
type Consumer interface {
	// Pop blocks until a message is available, ctx is done, or the queue
	// is closed and drained.
	Pop(ctx context.Context) (Message, error)
}

// Queue is a queue that can be both written and drained.
type Queue interface {
	Producer
	Consumer
	Close() error
}
