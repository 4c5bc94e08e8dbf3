package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-connector/internal/queue"
)

// popRetryDelay is the pause after a queue backend error before popping again.
const popRetryDelay = time.Second

// Kind classifies an inbound message by the filter that matched it.
type Kind string

// Message kinds.
const (
	KindEvent    Kind = "event"
	KindResponse Kind = "response"
	KindOther    Kind = "other"
)

// Logger is the logging interface used by the processor.
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

// DeviceTracker records that a device has been heard from.
// Implemented by *device.Registry.
type DeviceTracker interface {
	MarkSeen(ctx context.Context, id, moduleID string) error
}

// MetricsSink receives one record per processed message.
// Implemented by *influxdb.Client.
type MetricsSink interface {
	WriteMessageMetric(kind, deviceID string, bytes int)
}

// Listener is told about every handled message, after classification.
// It runs on the processor goroutine and must not block.
// Implemented by *api.Hub.
type Listener interface {
	MessageHandled(kind Kind, deviceID string, msg queue.Message)
}

// Options configures a Processor.
type Options struct {
	// Source is drained by Run. Required.
	Source queue.Consumer

	// EventFilter and ResponseFilter are the bridge's subscription filters.
	EventFilter    string
	ResponseFilter string

	// ModuleID is stored on devices discovered from events.
	ModuleID string

	// Devices is optional; when nil, events are not tracked.
	Devices DeviceTracker

	// Metrics is optional; when nil, nothing is recorded.
	Metrics MetricsSink

	// Listener is optional; it sees every handled message.
	Listener Listener

	Logger Logger
}

// Stats are running totals kept by a processor.
type Stats struct {
	Events    uint64 `json:"events"`
	Responses uint64 `json:"responses"`
	Other     uint64 `json:"other"`
	Failures  uint64 `json:"failures"`
}

// Processor drains the bridge's queue and acts on each message.
type Processor struct {
	source         queue.Consumer
	eventFilter    string
	responseFilter string
	moduleID       string
	devices        DeviceTracker
	metrics        MetricsSink
	listener       Listener
	logger         Logger

	events    atomic.Uint64
	responses atomic.Uint64
	other     atomic.Uint64
	failures  atomic.Uint64
}

// New creates a processor. Both filters must be valid subscription filters.
func New(opts Options) (*Processor, error) {
	if opts.Source == nil {
		return nil, errors.New("ingest: source queue is required")
	}
	for _, filter := range []string{opts.EventFilter, opts.ResponseFilter} {
		if err := mqtt.ValidateFilter(filter); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Processor{
		source:         opts.Source,
		eventFilter:    opts.EventFilter,
		responseFilter: opts.ResponseFilter,
		moduleID:       opts.ModuleID,
		devices:        opts.Devices,
		metrics:        opts.Metrics,
		listener:       opts.Listener,
		logger:         logger,
	}, nil
}

// Run processes messages until ctx is cancelled or the queue is closed.
// Failures on individual messages are logged and never stop the loop.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.source.Pop(ctx)
		switch {
		case err == nil:
			p.Handle(ctx, msg)
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		default:
			p.logger.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(popRetryDelay):
			}
		}
	}
}

// Classify returns the kind of a topic and the device id taken from the
// level where the matching filter's first wildcard sits. For the filter
// "evt/#" and topic "evt/device1/state" that is ("event", "device1").
// The device id is empty when the topic has no such level.
func (p *Processor) Classify(path []string) (Kind, string) {
	topic := queue.Message{Path: path}.Topic()

	switch {
	case mqtt.MatchTopic(p.eventFilter, topic):
		return KindEvent, levelAt(path, mqtt.WildcardIndex(p.eventFilter))
	case mqtt.MatchTopic(p.responseFilter, topic):
		return KindResponse, levelAt(path, mqtt.WildcardIndex(p.responseFilter))
	default:
		return KindOther, ""
	}
}

// Handle processes a single message.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) {
	kind, deviceID := p.Classify(msg.Path)

	switch kind {
	case KindEvent:
		p.events.Add(1)
		if deviceID == "" {
			p.logger.Debug("event without device id", "topic", msg.Topic())
			break
		}
		if p.devices != nil {
			if err := p.devices.MarkSeen(ctx, deviceID, p.moduleID); err != nil {
				p.failures.Add(1)
				p.logger.Warn("could not record device", "device_id", deviceID, "error", err)
			}
		}
	case KindResponse:
		p.responses.Add(1)
		p.logger.Debug("response received", "topic", msg.Topic(), "device_id", deviceID)
	default:
		p.other.Add(1)
		p.logger.Debug("unclassified message", "topic", msg.Topic())
	}

	if p.metrics != nil {
		p.metrics.WriteMessageMetric(string(kind), deviceID, len(msg.Payload))
	}
	if p.listener != nil {
		p.listener.MessageHandled(kind, deviceID, msg)
	}
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Events:    p.events.Load(),
		Responses: p.responses.Load(),
		Other:     p.other.Load(),
		Failures:  p.failures.Load(),
	}
}

func levelAt(path []string, i int) string {
	if i < 0 || i >= len(path) {
		return ""
	}
	return path[i]
}
