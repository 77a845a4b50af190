// Package events implements A4: a bounded in-process channel of domain
// events drained and published to the notification channel, dropping the
// oldest pending event on overflow rather than blocking the producer
// (§4.7). Grounded on the teacher's controller/prewarm.go saturation
// handling (bounded pool, drop/retry rather than block), reused here at
// channel-depth scale instead of connection-pool-depth scale.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

// Publisher drains an in-process event queue and writes each event to the
// notification channel (§6.2). It never blocks its producers: when the
// queue is full, the oldest pending event is dropped and a counter
// incremented, never the other way around.
type Publisher struct {
	queue   chan streaming.Event
	channel *streaming.NotificationChannel
	logger  *zap.Logger
	metrics *metrics.Aggregator
}

// NewPublisher constructs a Publisher with the given bounded queue depth.
func NewPublisher(channel *streaming.NotificationChannel, depth int, logger *zap.Logger, m *metrics.Aggregator) *Publisher {
	if depth <= 0 {
		depth = 4096
	}
	return &Publisher{
		queue:   make(chan streaming.Event, depth),
		channel: channel,
		logger:  logger,
		metrics: m,
	}
}

// Enqueue offers ev to the queue. If the queue is full, the oldest queued
// event is dropped to make room — the producer (A2) is never blocked.
func (p *Publisher) Enqueue(ev streaming.Event) {
	select {
	case p.queue <- ev:
		return
	default:
	}

	// Queue full: drop one oldest entry, then retry once. A2 must never
	// suspend on this path (§5), so this is a best-effort, single retry.
	select {
	case <-p.queue:
		p.metrics.EventsDropped.Inc()
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.metrics.EventsDropped.Inc()
	}
}

// Run drains the queue until ctx is canceled, publishing each event with a
// bounded per-publish timeout. Publish errors are logged and the event is
// discarded — event loss is always tolerable (§4.7).
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.publishOne(ctx, ev)
		}
	}
}

func (p *Publisher) publishOne(ctx context.Context, ev streaming.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, streaming.PublishTimeout)
	defer cancel()
	if err := p.channel.Publish(pubCtx, ev); err != nil {
		p.logger.Warn("dropping domain event: notification channel publish failed",
			zap.String("event_type", string(ev.Type)), zap.Error(err))
	}
}

// Len reports the number of events currently queued.
func (p *Publisher) Len() int { return len(p.queue) }

// drainDeadline is a bound for a best-effort flush of queued events. The
// Publisher has no such flush: Run returns as soon as ctx is canceled and
// events still queued at that point are not published.
const drainDeadline = 500 * time.Millisecond
