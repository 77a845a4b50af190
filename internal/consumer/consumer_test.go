package consumer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/streaming"
)

type fakeApplier struct {
	applied []frame.Canonical
}

func (f *fakeApplier) Apply(c *frame.Canonical) {
	f.applied = append(f.applied, *c)
}

func newTestConsumer(t *testing.T, applier Applier) *Consumer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewAggregator(reg)
	return New(Config{}, nil, applier, zap.NewNop(), m)
}

func TestApplyEntryDecodesAndAppliesFrames(t *testing.T) {
	applier := &fakeApplier{}
	c := newTestConsumer(t, applier)

	f := frame.Canonical{
		Interface: "eth0",
		SrcMAC:    frame.MAC{0xAA, 0xAA, 0xAA, 0, 0, 1},
		DstMAC:    frame.MAC{0xBB, 0xBB, 0xBB, 0, 0, 1},
		EtherType: frame.EtherTypeIPv4,
		FrameSize: 64,
	}
	payload := frame.EncodeBatch([]frame.Canonical{f})

	c.applyEntry(streaming.BatchEntry{ID: "1-0", Payload: payload, FrameCount: 1})

	require.Len(t, applier.applied, 1)
	require.Equal(t, 1, c.PendingCount())
}

func TestApplyEntryMalformedStillMarksPending(t *testing.T) {
	applier := &fakeApplier{}
	c := newTestConsumer(t, applier)

	c.applyEntry(streaming.BatchEntry{ID: "2-0", Payload: []byte{0xFF}})

	require.Empty(t, applier.applied)
	require.Equal(t, 1, c.PendingCount(), "a malformed entry is still acked so it cannot wedge the stream")
}

func TestPendingAccumulatesAcrossEntries(t *testing.T) {
	applier := &fakeApplier{}
	c := newTestConsumer(t, applier)

	payload := frame.EncodeBatch([]frame.Canonical{{Interface: "eth0"}})
	c.applyEntry(streaming.BatchEntry{ID: "1-0", Payload: payload})
	c.applyEntry(streaming.BatchEntry{ID: "2-0", Payload: payload})

	require.Equal(t, 2, c.PendingCount())
	require.Equal(t, []string{"1-0", "2-0"}, c.pending)
}
