package capture

import (
	"context"
	"time"
)

// FrameHandler processes one raw frame slice. raw is only valid for the
// duration of the call (§4.1: "valid only until the caller releases it
// back to the ring"); implementations must not retain it.
type FrameHandler func(raw []byte, ts time.Time)

// emptyPollBackoff is the adaptive sleep applied when the ring has nothing
// to read, per §4.1's "busy-poll... with a short adaptive sleep on empty".
const (
	minEmptyPollBackoff = 50 * time.Microsecond
	maxEmptyPollBackoff = 2 * time.Millisecond
)

// Run busy-polls the ring until ctx is canceled, calling handle for every
// frame read. One Binding is meant to be run by exactly one goroutine —
// the "one dedicated worker per interface" scheduling model (§4.1, §5).
func (b *Binding) Run(ctx context.Context, handle FrameHandler) error {
	backoff := minEmptyPollBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, ci, err := b.handle.ZeroCopyReadPacketData()
		if err != nil {
			if isTimeout(err) {
				time.Sleep(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			return err
		}

		backoff = minEmptyPollBackoff
		handle(data, ci.Timestamp)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxEmptyPollBackoff {
		d = maxEmptyPollBackoff
	}
	return d
}

// isTimeout reports whether err is the ring's "no data ready" signal rather
// than a real socket failure; afpacket surfaces this as a net.Error with
// Timeout() == true when OptPollTimeout elapses.
func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
