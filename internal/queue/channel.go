package queue

import (
	"context"
	"sync"
)

// Channel is a bounded in-memory queue.
//
// TryPut and Close may be called from any goroutine.
type Channel struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

// NewChannel creates a queue holding at most capacity messages.
// A capacity below one is treated as one.
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{ch: make(chan Message, capacity)}
}

// TryPut enqueues m, or returns ErrFull / ErrClosed immediately.
func (c *Channel) TryPut(m Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.ch <- m:
		return nil
	default:
		return ErrFull
	}
}

// Pop returns the next message. After Close, buffered messages are still
// delivered; ErrClosed is returned once the buffer is empty.
func (c *Channel) Pop(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-c.ch:
		if !ok {
			return Message{}, ErrClosed
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len returns the number of buffered messages.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Cap returns the queue capacity.
func (c *Channel) Cap() int {
	return cap(c.ch)
}

// Close stops accepting messages. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
