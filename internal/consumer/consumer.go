// Package consumer implements A1: reads the frame stream through a named
// consumer group, feeds decoded frames to the in-memory model, and defers
// acknowledgement until the next successful A3 commit (§4.4). Grounded on
// other_examples/…joaofoltran-pg-migrator…pipeline.go's decoder→applier
// handoff, where a replication decoder hands records to an applier and
// only advances its own replay position after the applier's transaction
// commits — the same "ack trails commit" discipline, applied here to
// stream entry IDs instead of a WAL LSN.
package consumer

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

// Applier receives every decoded frame as it is read off the stream (A2's
// Apply method satisfies this).
type Applier interface {
	Apply(f *frame.Canonical)
}

// Config controls A1's read loop (§4.4 defaults).
type Config struct {
	Group     string
	Consumer  string
	ReadBatch int64
	BlockFor  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "aggregator"
	}
	if c.Consumer == "" {
		c.Consumer = "aggregator-1"
	}
	if c.ReadBatch <= 0 {
		c.ReadBatch = 200
	}
	if c.BlockFor <= 0 {
		c.BlockFor = 5 * time.Second
	}
	return c
}

// Consumer is A1.
type Consumer struct {
	cfg     Config
	stream  *streaming.FrameStream
	applier Applier
	logger  *zap.Logger
	metrics *metrics.Aggregator

	mu      sync.Mutex
	pending []string // stream entry IDs consumed since the last A3 commit
}

// New constructs a Consumer. Run creates the consumer group itself (via
// EnsureGroup) before its first read.
func New(cfg Config, stream *streaming.FrameStream, applier Applier, logger *zap.Logger, m *metrics.Aggregator) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{cfg: cfg, stream: stream, applier: applier, logger: logger, metrics: m}
}

// Run reads and applies frames until ctx is canceled. It never blocks A3:
// a read error is logged and retried after a short pause rather than
// propagated, since a transient stream outage should not crash the
// aggregator (§7).
func (c *Consumer) Run(ctx context.Context) {
	if err := c.stream.EnsureGroup(ctx, c.cfg.Group); err != nil {
		c.logger.Error("failed to ensure consumer group exists", zap.Error(err))
	}

	c.recoverPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := c.stream.ReadGroup(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.ReadBatch, c.cfg.BlockFor)
		if err != nil {
			if errs.Is(err, errs.ErrStreamUnavailable) {
				c.logger.Warn("frame stream read failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			c.logger.Error("unexpected frame stream read error", zap.Error(err))
			return
		}

		for _, entry := range entries {
			c.applyEntry(entry)
		}
	}
}

// recoverPending replays this consumer's own pending entries list —
// entries a previous process under the same consumer name read but
// crashed before acknowledging — before it joins the live stream. Without
// this, those entries sit in the group's PEL forever: never reapplied
// (their frames are lost from A2) and never acked (§4.4/§4.6 Scenario E).
func (c *Consumer) recoverPending(ctx context.Context) {
	for {
		entries, err := c.stream.ReadPending(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.ReadBatch)
		if err != nil {
			c.logger.Warn("failed to read pending entries on startup, proceeding without replay", zap.Error(err))
			return
		}
		if len(entries) == 0 {
			return
		}
		for _, entry := range entries {
			c.applyEntry(entry)
		}
	}
}

func (c *Consumer) applyEntry(entry streaming.BatchEntry) {
	frames, err := frame.DecodeBatch(entry.Payload)
	if err != nil {
		// A malformed batch is unrecoverable by retry: log and still mark
		// it pending-ack so one bad entry cannot wedge the stream forever.
		c.logger.Error("dropping malformed batch entry", zap.String("entry_id", entry.ID), zap.Error(err))
	} else {
		for i := range frames {
			c.applier.Apply(&frames[i])
		}
	}

	c.mu.Lock()
	c.pending = append(c.pending, entry.ID)
	c.mu.Unlock()
}

// PendingCount reports how many entries are awaiting acknowledgement.
func (c *Consumer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// CommitAck acknowledges every entry consumed since the last successful
// call, called by A3 immediately after its transaction commits (§4.4:
// "acknowledgement is deferred until the next successful A3 commit").
// On failure the pending list is left untouched so the next cycle retries
// the same IDs.
func (c *Consumer) CommitAck(ctx context.Context) error {
	c.mu.Lock()
	ids := c.pending
	c.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := c.stream.Ack(ctx, c.cfg.Group, ids...); err != nil {
		return err
	}

	c.mu.Lock()
	// Only drop the IDs we just acked; frames consumed concurrently while
	// this ack was in flight must survive to the next cycle.
	c.pending = c.pending[len(ids):]
	c.mu.Unlock()
	return nil
}
