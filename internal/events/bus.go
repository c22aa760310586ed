// Package events carries outbound notifications (detections, executions,
// failures) from the hot path to slower consumers. Publication is
// fire-and-forget: the hot path never waits on a sink.
package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openarb/arbot/internal/domain"
)

// Sink receives events from the bus consumer. Implementations include the
// redis publisher, the notifier, and the trade archiver.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string
	// Handle processes one event. Errors are logged by the consumer and do
	// not affect other sinks or the publisher.
	Handle(ctx context.Context, ev domain.Event) error
}

const defaultSinkTimeout = 5 * time.Second

// Bus is a bounded queue drained by a single consumer goroutine. When the
// queue is full Publish drops the event, so delivery is at most once.
type Bus struct {
	queue       chan domain.Event
	sinks       []Sink
	sinkTimeout time.Duration
	logger      *slog.Logger
	dropped     atomic.Int64
}

// NewBus creates a bus with the given queue capacity.
func NewBus(capacity int, sinks []Sink, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		queue:       make(chan domain.Event, capacity),
		sinks:       sinks,
		sinkTimeout: defaultSinkTimeout,
		logger:      logger.With(slog.String("component", "events")),
	}
}

// Publish enqueues the event without blocking. A full queue drops the event
// and increments the drop counter.
func (b *Bus) Publish(ev domain.Event) {
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping",
			slog.String("type", string(ev.Type)),
		)
	}
}

// Run drains the queue until ctx is cancelled, delivering each event to
// every sink in order. A failing sink is logged and skipped; delivery to the
// remaining sinks continues.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("event consumer started", slog.Int("sinks", len(b.sinks)))
	defer b.logger.Info("event consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev domain.Event) {
	for _, sink := range b.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
		if err := sink.Handle(sinkCtx, ev); err != nil {
			b.logger.Warn("sink failed",
				slog.String("sink", sink.Name()),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
