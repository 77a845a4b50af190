package model

import "sync/atomic"

// MetricType enumerates the Traffic Metric's metric_type column (§3).
type MetricType string

const (
	MetricDeviceIn  MetricType = "device_in"
	MetricDeviceOut MetricType = "device_out"
	MetricFlow      MetricType = "flow"
)

// BucketKey identifies one Traffic Metric row (§3): a time bucket, an
// entity id (a device MAC or flow key hash), and a metric type.
type BucketKey struct {
	BucketStartUnixSec int64
	EntityHash         uint64
	MetricType         MetricType
}

// Bucket is A2's record for one Traffic Metric row (§3): packet/byte
// counts, running packet-size min/max/sum/count, and TCP SYN/RST/FIN
// sub-counts.
type Bucket struct {
	Key BucketKey

	Packets counterPair
	Bytes   counterPair

	minPacketSize atomic.Int64
	maxPacketSize atomic.Int64
	sumPacketSize atomic.Int64
	countForAvg   atomic.Int64

	synCount atomic.Int64
	rstCount atomic.Int64
	finCount atomic.Int64
}

func newBucket(key BucketKey) *Bucket {
	return &Bucket{Key: key}
}

// Observe folds one frame's contribution into the bucket (§4.5 step 5).
func (b *Bucket) Observe(frameSize uint32, tcpFlags uint8, isTCP bool) {
	b.Packets.Add(1)
	b.Bytes.Add(int64(frameSize))

	size := int64(frameSize)
	maxInt64(&b.maxPacketSize, size)
	minPacketSizeUpdate(&b.minPacketSize, size)
	b.sumPacketSize.Add(size)
	b.countForAvg.Add(1)

	if isTCP {
		if tcpFlags&0x02 != 0 { // SYN
			b.synCount.Add(1)
		}
		if tcpFlags&0x04 != 0 { // RST
			b.rstCount.Add(1)
		}
		if tcpFlags&0x01 != 0 { // FIN
			b.finCount.Add(1)
		}
	}
}

// minPacketSizeUpdate treats an unset (zero) minimum as "no observation
// yet" so the first sample always wins, then takes the running min.
func minPacketSizeUpdate(target *atomic.Int64, v int64) {
	for {
		cur := target.Load()
		if cur != 0 && v >= cur {
			return
		}
		if target.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Snapshot reports the current avg/min/max/syn/rst/fin values for
// persistence, alongside the packet/byte deltas (drained separately via
// Packets.Drain/Bytes.Drain).
type BucketSnapshot struct {
	MinPacketSize int64
	MaxPacketSize int64
	AvgPacketSize float64
	SYNCount      int64
	RSTCount      int64
	FINCount      int64
}

func (b *Bucket) Snapshot() BucketSnapshot {
	count := b.countForAvg.Load()
	sum := b.sumPacketSize.Load()
	var avg float64
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	return BucketSnapshot{
		MinPacketSize: b.minPacketSize.Load(),
		MaxPacketSize: b.maxPacketSize.Load(),
		AvgPacketSize: avg,
		SYNCount:      b.synCount.Load(),
		RSTCount:      b.rstCount.Load(),
		FINCount:      b.finCount.Load(),
	}
}
