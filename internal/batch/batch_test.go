package batch

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"
)

func newTestBatcher(t *testing.T, cfg Config) *Batcher {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewCapture(reg)
	return New(cfg, nil, zap.NewNop(), m)
}

func sampleFrame(iface string) frame.Canonical {
	return frame.Canonical{
		Interface: iface,
		SrcMAC:    frame.MAC{0xAA, 0xAA, 0xAA, 0, 0, 1},
		DstMAC:    frame.MAC{0xBB, 0xBB, 0xBB, 0, 0, 1},
		EtherType: frame.EtherTypeIPv4,
		FrameSize: 64,
	}
}

func TestAddClosesBatchAtSize(t *testing.T) {
	b := newTestBatcher(t, Config{BatchSize: 3, FlushInterval: time.Hour, PublishQueueDepth: 4})

	b.Add(sampleFrame("eth0"))
	b.Add(sampleFrame("eth0"))
	require.Equal(t, 0, b.Len(), "batch not yet full")

	b.Add(sampleFrame("eth0"))
	require.Equal(t, 1, b.Len(), "third frame closes the batch")

	entry := <-b.queue
	require.Equal(t, 3, entry.FrameCount)
	require.Equal(t, "eth0", entry.InterfaceName)
}

func TestAddTracksInterfacesIndependently(t *testing.T) {
	b := newTestBatcher(t, Config{BatchSize: 2, FlushInterval: time.Hour, PublishQueueDepth: 4})

	b.Add(sampleFrame("eth0"))
	b.Add(sampleFrame("eth1"))
	require.Equal(t, 0, b.Len())

	b.Add(sampleFrame("eth0"))
	require.Equal(t, 1, b.Len())
}

func TestFlushForceClosesPartialBatches(t *testing.T) {
	b := newTestBatcher(t, Config{BatchSize: 100, FlushInterval: time.Hour, PublishQueueDepth: 4})

	b.Add(sampleFrame("eth0"))
	b.Add(sampleFrame("eth0"))
	require.Equal(t, 0, b.Len())

	b.Flush()
	require.Equal(t, 1, b.Len())

	entry := <-b.queue
	require.Equal(t, 2, entry.FrameCount)
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	b := newTestBatcher(t, Config{BatchSize: 1, FlushInterval: time.Hour, PublishQueueDepth: 1})

	b.Add(sampleFrame("eth0")) // fills the depth-1 queue
	require.Equal(t, 1, b.Len())

	b.Add(sampleFrame("eth1")) // must drop the first entry to make room
	require.Equal(t, 1, b.Len())

	entry := <-b.queue
	require.Equal(t, "eth1", entry.InterfaceName, "the newer batch survives; the older one was dropped")
}

func TestTickForceClosesAgedBatches(t *testing.T) {
	b := newTestBatcher(t, Config{BatchSize: 100, FlushInterval: time.Millisecond, PublishQueueDepth: 4})

	b.Add(sampleFrame("eth0"))
	time.Sleep(5 * time.Millisecond)
	b.tick()

	require.Equal(t, 1, b.Len())
}
