// Package streaming implements the frame stream and notification channel
// wire contracts (§6.1, §6.2) on top of Redis Streams, grounded on
// other_examples/…SuperSql-bk-cmdb…hostsnap.go's use of a redis client as
// the transport between a collector and its processing stage.
package streaming

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netsentinel/netsentinel/internal/errs"
)

// FrameStream publishes and consumes frame batches (§6.1).
type FrameStream struct {
	client *redis.Client
	name   string
	maxLen int64
}

// NewFrameStream connects to url and targets the named stream.
func NewFrameStream(url, name string, maxLen int) (*FrameStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing stream_url: %w", err)
	}
	return &FrameStream{
		client: redis.NewClient(opts),
		name:   name,
		maxLen: int64(maxLen),
	}, nil
}

// Close releases the underlying connection pool.
func (s *FrameStream) Close() error { return s.client.Close() }

// BatchEntry is one published/consumed stream entry (§6.1's fields).
type BatchEntry struct {
	ID              string // the stream entry ID; empty when publishing
	InterfaceName   string
	BatchTimestampUnixMicro int64
	FrameCount      int
	Payload         []byte // length-prefixed concatenation of frame records
}

// Publish appends entry to the stream, capping it at maxLen via an
// approximate MAXLEN trim (oldest entries evicted on overflow, §6.1).
// Transient connectivity failures are returned wrapped in
// errs.ErrStreamUnavailable so callers can apply the backoff-then-
// drop-oldest policy (§4.3, §7) without inspecting driver-specific errors.
func (s *FrameStream) Publish(ctx context.Context, entry BatchEntry) error {
	args := &redis.XAddArgs{
		Stream: s.name,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"interface_name": entry.InterfaceName,
			"batch_ts":       entry.BatchTimestampUnixMicro,
			"frame_count":    entry.FrameCount,
			"payload":        entry.Payload,
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}
	return nil
}

// EnsureGroup creates the named consumer group if it does not already
// exist, starting at the tail (`$`) so a fresh group never replays an
// arbitrarily old backlog (§4.4).
func (s *FrameStream) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.name, group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}
	return nil
}

// ReadGroup reads up to count new (never delivered) entries for
// group/consumer, blocking for at most blockFor (§4.4 "read up to
// read_batch entries with a block_ms blocking timeout"). Entries already
// pending for the consumer are not returned; ReadPending reads those.
func (s *FrameStream) ReadGroup(ctx context.Context, group, consumer string, count int64, blockFor time.Duration) ([]BatchEntry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.name, ">"},
		Count:    count,
		Block:    blockFor,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}

	var out []BatchEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			out = append(out, messageToEntry(msg))
		}
	}
	return out, nil
}

// ReadPending re-reads entries already on consumer's pending entries list
// (delivered to this consumer name but never acked) by reading from ID
// "0" instead of ">". A crashed-and-restarted consumer uses this to
// reclaim its own still-unacknowledged entries before rejoining the live
// stream, so a crash cannot leave frames stranded forever (§4.4/§4.6
// Scenario E). Unlike ReadGroup, this never blocks: Redis answers
// immediately from the pending list regardless of Block.
func (s *FrameStream) ReadPending(ctx context.Context, group, consumer string, count int64) ([]BatchEntry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.name, "0"},
		Count:    count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}

	var out []BatchEntry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			out = append(out, messageToEntry(msg))
		}
	}
	return out, nil
}

// Ack acknowledges every entry whose ID is in ids (§4.4: deferred until the
// next successful A3 commit).
func (s *FrameStream) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.name, group, ids...).Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}
	return nil
}

func messageToEntry(msg redis.XMessage) BatchEntry {
	e := BatchEntry{ID: msg.ID}
	if v, ok := msg.Values["interface_name"].(string); ok {
		e.InterfaceName = v
	}
	if v, ok := msg.Values["batch_ts"]; ok {
		e.BatchTimestampUnixMicro = toInt64(v)
	}
	if v, ok := msg.Values["frame_count"]; ok {
		e.FrameCount = int(toInt64(v))
	}
	switch v := msg.Values["payload"].(type) {
	case string:
		e.Payload = []byte(v)
	case []byte:
		e.Payload = v
	}
	return e
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		var n int64
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func isBusyGroupErr(err error) bool {
	// redis returns "BUSYGROUP Consumer Group name already exists" as a
	// plain *redis.Error whose message we match; there is no typed
	// sentinel for this in go-redis.
	const busyGroupPrefix = "BUSYGROUP"
	msg := err.Error()
	return len(msg) >= len(busyGroupPrefix) && msg[:len(busyGroupPrefix)] == busyGroupPrefix
}
