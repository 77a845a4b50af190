package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netsentinel/netsentinel/internal/errs"
)

// EventType enumerates the notification channel's domain events (§6.2).
type EventType string

const (
	EventNewDevice EventType = "new_device"
	EventNewFlow   EventType = "new_flow"
)

// Event is one notification-channel payload (§6.2): {type, timestamp, payload}.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewDevicePayload is the minimal payload for EventNewDevice (§4.7: "key,
// first_seen").
type NewDevicePayload struct {
	MAC       string `json:"mac"`
	FirstSeen int64  `json:"first_seen"`
}

// NewFlowPayload is the minimal payload for EventNewFlow.
type NewFlowPayload struct {
	FlowKey   string `json:"flow_key"`
	FirstSeen int64  `json:"first_seen"`
}

// NotificationChannel publishes domain events to a separate stream from
// the frame stream, per §6.2.
type NotificationChannel struct {
	client *redis.Client
	name   string
}

// NewNotificationChannel connects to url and targets the named stream.
func NewNotificationChannel(url, name string) (*NotificationChannel, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing stream_url: %w", err)
	}
	return &NotificationChannel{client: redis.NewClient(opts), name: name}, nil
}

// Close releases the underlying connection pool.
func (n *NotificationChannel) Close() error { return n.client.Close() }

// Publish writes ev to the notification channel. Event loss is always
// tolerable (§4.7); callers are expected to drop rather than retry on
// error.
func (n *NotificationChannel) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.name,
		MaxLen: 100_000,
		Approx: true,
		Values: map[string]any{"event": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStreamUnavailable, err)
	}
	return nil
}

// PublishTimeout bounds how long a single Publish call may block, per §5's
// "all I/O carries a hard timeout".
const PublishTimeout = 2 * time.Second
