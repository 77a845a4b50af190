// Package batch implements C3: groups decoded frames into size- or
// time-bounded batches and publishes them to the frame stream, holding a
// bounded in-memory queue with drop-oldest backpressure and exponential
// backoff on transient publish failures (§4.3). Grounded on the teacher's
// controller/prewarm.go dynamic-pool shape — a bounded resource with a
// saturation policy and a retry-with-backoff path — applied here to
// outbound batches instead of inbound connections.
package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/errs"
	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

// Config controls batch sizing and publish backpressure (§4.3 defaults).
type Config struct {
	BatchSize         int
	FlushInterval     time.Duration
	PublishQueueDepth int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.PublishQueueDepth <= 0 {
		c.PublishQueueDepth = 1024
	}
	return c
}

// pendingBatch accumulates one interface's frames until closed by size or
// time (§4.3's "batch closes when either bound is reached").
type pendingBatch struct {
	interfaceName string
	startedAt     time.Time
	frames        []frame.Canonical
}

// Batcher is C3. One Batcher serves every bound interface: Add is called
// from each interface's capture worker goroutine, and an internal ticker
// force-closes batches that have sat open past FlushInterval.
type Batcher struct {
	cfg     Config
	stream  *streaming.FrameStream
	logger  *zap.Logger
	metrics *metrics.Capture

	queue chan streaming.BatchEntry

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

// New constructs a Batcher publishing to stream.
func New(cfg Config, stream *streaming.FrameStream, logger *zap.Logger, m *metrics.Capture) *Batcher {
	cfg = cfg.withDefaults()
	return &Batcher{
		cfg:     cfg,
		stream:  stream,
		logger:  logger,
		metrics: m,
		queue:   make(chan streaming.BatchEntry, cfg.PublishQueueDepth),
		pending: make(map[string]*pendingBatch),
	}
}

// Add appends f to its interface's open batch, closing and enqueueing the
// batch for publish if it has reached BatchSize (§4.3). Safe for
// concurrent use across different interfaces; per-interface calls are
// expected to be serialized by that interface's capture worker.
func (b *Batcher) Add(f frame.Canonical) {
	b.mu.Lock()
	pb, ok := b.pending[f.Interface]
	if !ok {
		pb = &pendingBatch{interfaceName: f.Interface, startedAt: time.Now()}
		b.pending[f.Interface] = pb
	}
	pb.frames = append(pb.frames, f)
	full := len(pb.frames) >= b.cfg.BatchSize
	if full {
		delete(b.pending, f.Interface)
	}
	b.mu.Unlock()

	if full {
		b.enqueue(pb)
	}
}

// tick force-closes every batch open longer than FlushInterval, called
// periodically by Run's ticker.
func (b *Batcher) tick() {
	var ready []*pendingBatch
	cutoff := time.Now().Add(-b.cfg.FlushInterval)

	b.mu.Lock()
	for iface, pb := range b.pending {
		if len(pb.frames) > 0 && pb.startedAt.Before(cutoff) {
			ready = append(ready, pb)
			delete(b.pending, iface)
		}
	}
	b.mu.Unlock()

	for _, pb := range ready {
		b.enqueue(pb)
	}
}

// Flush force-closes every open batch regardless of age, used on graceful
// shutdown (§5: "C3 flushes any partial batch with a best-effort publish").
func (b *Batcher) Flush() {
	b.mu.Lock()
	var ready []*pendingBatch
	for iface, pb := range b.pending {
		if len(pb.frames) > 0 {
			ready = append(ready, pb)
		}
		delete(b.pending, iface)
	}
	b.mu.Unlock()

	for _, pb := range ready {
		b.enqueue(pb)
	}
}

// enqueue hands a closed batch to the bounded publish queue, dropping the
// oldest queued entry on overflow (§4.3's drop-oldest policy).
func (b *Batcher) enqueue(pb *pendingBatch) {
	entry := streaming.BatchEntry{
		InterfaceName:           pb.interfaceName,
		BatchTimestampUnixMicro: pb.startedAt.UnixMicro(),
		FrameCount:              len(pb.frames),
		Payload:                 frame.EncodeBatch(pb.frames),
	}

	select {
	case b.queue <- entry:
		return
	default:
	}

	select {
	case <-b.queue:
		b.metrics.DropOnPublish.Inc()
	default:
	}
	select {
	case b.queue <- entry:
	default:
		b.metrics.DropOnPublish.Inc()
	}
}

// minBackoff and maxBackoff bound the publish retry delay on transient
// stream errors (§4.3: "exponential backoff with cap").
const (
	minBackoff = 50 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Run drains the publish queue until ctx is canceled, publishing batches
// in order with exponential backoff on transient errors. It is the
// single consumer of the queue, so publish order matches enqueue order
// per interface (§4.3's per-interface ordering guarantee).
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		case entry := <-b.queue:
			b.publishWithBackoff(ctx, entry)
		}
	}
}

func (b *Batcher) publishWithBackoff(ctx context.Context, entry streaming.BatchEntry) {
	backoff := minBackoff
	for {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := b.stream.Publish(pubCtx, entry)
		cancel()
		if err == nil {
			b.metrics.BatchesPublished.Inc()
			return
		}
		if !errs.Is(err, errs.ErrStreamUnavailable) {
			b.logger.Error("batch publish failed with a non-retryable error", zap.Error(err))
			return
		}

		b.logger.Warn("batch publish failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			b.metrics.CancelDrop.Inc()
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Len reports the number of batches currently queued for publish.
func (b *Batcher) Len() int { return len(b.queue) }
