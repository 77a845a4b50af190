package model

import "github.com/netsentinel/netsentinel/internal/frame"

// DeviceDelta is one Device's drained delta for one persistence cycle
// (§4.6 step 1: "atomically move the delta counters of every dirty record
// into a local set and reset them to zero").
type DeviceDelta struct {
	MAC          frame.MAC
	OUIVendor    string
	OUIPrefixHex string

	FirstSeenMicro int64
	LastSeenMicro  int64

	PacketsSentDelta     int64
	PacketsReceivedDelta int64
	BytesSentDelta       int64
	BytesReceivedDelta   int64

	Kind      DeviceType
	Name      string
	Notes     string
	IsGateway bool
	IsFlagged bool
}

func (d *DeviceDelta) dirty() bool {
	return d.PacketsSentDelta != 0 || d.PacketsReceivedDelta != 0 ||
		d.BytesSentDelta != 0 || d.BytesReceivedDelta != 0
}

// DrainDevices snapshots and zeroes every Device's delta counters,
// returning only the devices that changed since the last drain.
func (m *Model) DrainDevices() []DeviceDelta {
	var out []DeviceDelta
	m.devices.Range(func(_ frame.MAC, d *Device) bool {
		kind, name, notes, isGateway, isFlagged := d.Snapshot()
		delta := DeviceDelta{
			MAC:                  d.MAC,
			OUIVendor:            d.OUIVendor,
			OUIPrefixHex:         d.OUIPrefixHex,
			FirstSeenMicro:       d.FirstSeenMicro,
			LastSeenMicro:        d.LastSeenMicro(),
			PacketsSentDelta:     d.PacketsSent.Drain(),
			PacketsReceivedDelta: d.PacketsReceived.Drain(),
			BytesSentDelta:       d.BytesSent.Drain(),
			BytesReceivedDelta:   d.BytesReceived.Drain(),
			Kind:                 kind,
			Name:                 name,
			Notes:                notes,
			IsGateway:            isGateway,
			IsFlagged:            isFlagged,
		}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreDevice re-adds an undelivered delta back into A2 on a failed
// commit (§4.6 step 5), summing with whatever accumulated concurrently.
func (m *Model) RestoreDevice(d DeviceDelta) {
	h := hashMAC(d.MAC)
	rec, ok := m.devices.Get(h, d.MAC)
	if !ok {
		return
	}
	rec.PacketsSent.Restore(d.PacketsSentDelta)
	rec.PacketsReceived.Restore(d.PacketsReceivedDelta)
	rec.BytesSent.Restore(d.BytesSentDelta)
	rec.BytesReceived.Restore(d.BytesReceivedDelta)
}

// DeviceIPDelta is one Device-IP's drained delta.
type DeviceIPDelta struct {
	Key            DeviceIPKey
	FirstSeenMicro int64
	LastSeenMicro  int64
	PacketsDelta   int64
	BytesDelta     int64
}

func (d *DeviceIPDelta) dirty() bool { return d.PacketsDelta != 0 || d.BytesDelta != 0 }

// DrainDeviceIPs snapshots and zeroes every Device-IP's delta counters.
func (m *Model) DrainDeviceIPs() []DeviceIPDelta {
	var out []DeviceIPDelta
	m.deviceIPs.Range(func(key DeviceIPKey, d *DeviceIP) bool {
		delta := DeviceIPDelta{
			Key:            key,
			FirstSeenMicro: d.FirstSeenMicro,
			LastSeenMicro:  d.LastSeenMicro(),
			PacketsDelta:   d.Packets.Drain(),
			BytesDelta:     d.Bytes.Drain(),
		}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreDeviceIP re-adds an undelivered Device-IP delta on a failed commit.
func (m *Model) RestoreDeviceIP(d DeviceIPDelta) {
	h := hashDeviceIPKey(d.Key)
	rec, ok := m.deviceIPs.Get(h, d.Key)
	if !ok {
		return
	}
	rec.Packets.Restore(d.PacketsDelta)
	rec.Bytes.Restore(d.BytesDelta)
}

// VLANDelta is one VLAN catalog entry's drained delta.
type VLANDelta struct {
	Key          VLANKey
	PacketsDelta int64
	BytesDelta   int64
}

func (v *VLANDelta) dirty() bool { return v.PacketsDelta != 0 || v.BytesDelta != 0 }

// DrainVLANs snapshots and zeroes every VLAN catalog entry's delta counters.
func (m *Model) DrainVLANs() []VLANDelta {
	var out []VLANDelta
	m.vlans.Range(func(key VLANKey, v *VLANCatalog) bool {
		delta := VLANDelta{Key: key, PacketsDelta: v.Packets.Drain(), BytesDelta: v.Bytes.Drain()}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreVLAN re-adds an undelivered VLAN delta on a failed commit.
func (m *Model) RestoreVLAN(v VLANDelta) {
	h := hashVLANKey(v.Key)
	rec, ok := m.vlans.Get(h, v.Key)
	if !ok {
		return
	}
	rec.Packets.Restore(v.PacketsDelta)
	rec.Bytes.Restore(v.BytesDelta)
}

// FlowDelta is one Flow's drained delta.
type FlowDelta struct {
	Key            FlowKey
	FirstSeenMicro int64
	LastSeenMicro  int64
	PacketsDelta   int64
	BytesDelta     int64
	TCPFlagsSeen   uint8
}

func (f *FlowDelta) dirty() bool { return f.PacketsDelta != 0 || f.BytesDelta != 0 }

// DrainFlows snapshots and zeroes every Flow's delta counters.
func (m *Model) DrainFlows() []FlowDelta {
	var out []FlowDelta
	m.flows.Range(func(key FlowKey, f *Flow) bool {
		delta := FlowDelta{
			Key:            key,
			FirstSeenMicro: f.FirstSeenMicro,
			LastSeenMicro:  f.LastSeenMicro(),
			PacketsDelta:   f.Packets.Drain(),
			BytesDelta:     f.Bytes.Drain(),
			TCPFlagsSeen:   f.TCPFlagsSeen(),
		}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreFlow re-adds an undelivered Flow delta on a failed commit. TCP
// flags are not restored: they are a monotone OR-set read fresh from the
// live record on the next cycle, never reset by Drain.
func (m *Model) RestoreFlow(f FlowDelta) {
	h := hashFlowKey(f.Key)
	rec, ok := m.flows.Get(h, f.Key)
	if !ok {
		return
	}
	rec.Packets.Restore(f.PacketsDelta)
	rec.Bytes.Restore(f.BytesDelta)
}

// EvictedFlowDelta carries the undrained packet/byte delta of a flow that
// left A2 via flow_cap eviction, for its final flush (§4.5: "evicted flows
// are flushed to the database on their way out"). Like every other delta
// path, Packets/Bytes are drained once, never the lifetime cumulative
// total, so a flow already partially persisted in an earlier cycle is not
// double-counted on its way out.
type EvictedFlowDelta struct {
	Key            FlowKey
	FirstSeenMicro int64
	LastSeenMicro  int64
	Packets        int64
	Bytes          int64
	TCPFlagsSeen   uint8
}

// ProtocolDelta is one Protocol counter's drained delta.
type ProtocolDelta struct {
	Key          ProtocolKey
	PacketsDelta int64
	BytesDelta   int64
}

func (p *ProtocolDelta) dirty() bool { return p.PacketsDelta != 0 || p.BytesDelta != 0 }

// DrainProtocols snapshots and zeroes every Protocol's delta counters.
func (m *Model) DrainProtocols() []ProtocolDelta {
	var out []ProtocolDelta
	m.protocols.Range(func(key ProtocolKey, p *Protocol) bool {
		delta := ProtocolDelta{Key: key, PacketsDelta: p.Packets.Drain(), BytesDelta: p.Bytes.Drain()}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreProtocol re-adds an undelivered Protocol delta on a failed commit.
func (m *Model) RestoreProtocol(p ProtocolDelta) {
	h := hashProtocolKey(p.Key)
	rec, ok := m.protocols.Get(h, p.Key)
	if !ok {
		return
	}
	rec.Packets.Restore(p.PacketsDelta)
	rec.Bytes.Restore(p.BytesDelta)
}

// BucketDelta is one Traffic-Metric bucket's drained delta, including the
// point-in-time min/max/avg/SYN/RST/FIN observations (§4.6 step 4).
type BucketDelta struct {
	Key          BucketKey
	PacketsDelta int64
	BytesDelta   int64
	BucketSnapshot
}

func (b *BucketDelta) dirty() bool { return b.PacketsDelta != 0 || b.BytesDelta != 0 }

// DrainBuckets snapshots and zeroes every bucket's delta counters. On a
// failed commit only the packet/byte deltas are restored (RestoreBucket):
// a bucket's non-counter fields (min/max/avg/flag counts) are
// cumulative-only, never reset by Drain, and read fresh from the live
// record on the next cycle.
func (m *Model) DrainBuckets() []BucketDelta {
	var out []BucketDelta
	m.buckets.Range(func(key BucketKey, b *Bucket) bool {
		snap := b.Snapshot()
		delta := BucketDelta{
			Key:            key,
			PacketsDelta:   b.Packets.Drain(),
			BytesDelta:     b.Bytes.Drain(),
			BucketSnapshot: snap,
		}
		if delta.dirty() {
			out = append(out, delta)
		}
		return true
	})
	return out
}

// RestoreBucket re-adds an undelivered bucket delta's packet/byte counters
// on a failed commit.
func (m *Model) RestoreBucket(b BucketDelta) {
	h := b.Key.EntityHash ^ uint64(b.Key.BucketStartUnixSec)
	rec, ok := m.buckets.Get(h, b.Key)
	if !ok {
		return
	}
	rec.Packets.Restore(b.PacketsDelta)
	rec.Bytes.Restore(b.BytesDelta)
}

// ForgetBucket drops a bucket record from A2 once its time window has
// fully closed and been committed. Without this, every bucket ever opened
// would live in memory for the process lifetime; A3 calls this once a
// bucket's window is safely in the past relative to max_bucket_lookback.
func (m *Model) ForgetBucket(key BucketKey) {
	h := key.EntityHash ^ uint64(key.BucketStartUnixSec)
	m.buckets.Delete(h, key)
}
