// Package queue carries inbound MQTT messages from the broker bridge to
// whoever consumes them.
//
// The bridge only ever calls Producer.TryPut, which must not block: a full
// or closed queue is reported as ErrFull or ErrClosed and the message is
// dropped by the caller. Consumers drain the queue with Consumer.Pop.
//
// Channel.TryPut never waits. Redis.TryPut waits for one round trip, at
// most RedisConfig.OpTimeout (200ms unless configured), and the bridge's
// callback dispatch stalls for that long.
//
// Two backends exist:
//   - Channel: a bounded in-process queue built on a buffered channel.
//   - Redis: a capped Redis list, for consumers running in another process.
package queue
