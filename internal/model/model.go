package model

import (
	"time"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"
	"github.com/netsentinel/netsentinel/internal/oui"
)

// EventSink receives domain events as A2 creates new Devices/Flows (§4.7).
// Implementations must not block (Enqueue on events.Publisher never does).
type EventSink interface {
	NewDevice(mac frame.MAC, firstSeenMicro int64)
	NewFlow(key FlowKey, firstSeenMicro int64)
}

// EvictionSink receives flows evicted by the flow_cap LRU path so they can
// be flushed to the database on their way out (§4.5: "evicted flows are
// flushed... never silently lost").
type EvictionSink interface {
	FlowEvicted(f *Flow)
}

// Config controls A2's behavior.
type Config struct {
	FlowCap            int
	BucketSizeSecs     int64
	ActivityWindowSecs int64
}

// Model is A2: the in-memory devices/flows/protocols/metrics state.
type Model struct {
	cfg Config

	devices   *shardedMap[frame.MAC, *Device]
	deviceIPs *shardedMap[DeviceIPKey, *DeviceIP]
	vlans     *shardedMap[VLANKey, *VLANCatalog]
	flows     *shardedMap[FlowKey, *Flow]
	protocols *shardedMap[ProtocolKey, *Protocol]
	buckets   *shardedMap[BucketKey, *Bucket]

	vendors *vendorCache

	events   EventSink
	eviction EvictionSink
	metrics  *metrics.Aggregator
}

// New constructs an empty Model.
func New(cfg Config, events EventSink, eviction EvictionSink, m *metrics.Aggregator) *Model {
	if cfg.BucketSizeSecs == 0 {
		cfg.BucketSizeSecs = 60
	}
	if cfg.ActivityWindowSecs == 0 {
		cfg.ActivityWindowSecs = 300
	}
	return &Model{
		cfg:       cfg,
		devices:   newShardedMap[frame.MAC, *Device](hashMAC),
		deviceIPs: newShardedMap[DeviceIPKey, *DeviceIP](hashDeviceIPKey),
		vlans:     newShardedMap[VLANKey, *VLANCatalog](hashVLANKey),
		flows:     newShardedMap[FlowKey, *Flow](hashFlowKey),
		protocols: newShardedMap[ProtocolKey, *Protocol](hashProtocolKey),
		buckets:   newShardedMap[BucketKey, *Bucket](func(k BucketKey) uint64 { return k.EntityHash }),
		vendors:   newVendorCache(),
		events:    events,
		eviction:  eviction,
		metrics:   m,
	}
}

// SetEvictionSink wires the eviction sink after construction, for callers
// whose sink (the persister) itself needs a reference to the Model it
// will be draining.
func (m *Model) SetEvictionSink(eviction EvictionSink) {
	m.eviction = eviction
}

// Apply folds one Canonical Frame into the model per §4.5's per-frame
// update rule. It is lock-domain-scoped, never holds a global lock across
// the whole update, and never suspends (§5).
func (m *Model) Apply(f *frame.Canonical) {
	now := f.TimestampUnixMicro

	srcDevice := m.touchDevice(f.SrcMAC, now)
	dstDevice := m.touchDevice(f.DstMAC, now)

	if srcDevice != nil {
		srcDevice.touchLastSeen(now)
		srcDevice.PacketsSent.Add(1)
		srcDevice.BytesSent.Add(int64(f.FrameSize))
		if f.HasIPv4 {
			m.touchDeviceIP(f.SrcMAC, f.SrcIP, f.VLANID(), now)
		}
	}
	if dstDevice != nil {
		dstDevice.touchLastSeen(now)
		dstDevice.PacketsReceived.Add(1)
		dstDevice.BytesReceived.Add(int64(f.FrameSize))
		if f.HasIPv4 {
			m.touchDeviceIP(f.DstMAC, f.DstIP, f.VLANID(), now)
		}
	}

	if f.HasOuterVLAN {
		m.touchVLAN(f, now)
	}

	flowKey := flowKeyFor(f)
	flow := m.touchFlow(flowKey, now, f)

	m.touchProtocol(f, now)

	m.touchBuckets(f, srcDevice, dstDevice, flow, now)

	m.metrics.FramesIngested.Inc()
	m.enforceFlowCap()
}

func flowKeyFor(f *frame.Canonical) FlowKey {
	key := FlowKey{
		SrcMAC: f.SrcMAC,
		DstMAC: f.DstMAC,
		VLANID: f.VLANID(),
	}
	if f.HasIPv4 {
		key.SrcIP = ipToUint32(f.SrcIP)
		key.DstIP = ipToUint32(f.DstIP)
		key.IPProtocol = f.IPProto
	}
	if f.HasL4 {
		key.SrcPort = f.SrcPort
		key.DstPort = f.DstPort
	}
	return key
}

// touchDevice returns the Device for mac, creating it on first sight. It
// returns nil for multicast/broadcast MACs: Open Question 1 (spec.md §9)
// is resolved in favor of filtering them from CMDB inventory at ingress
// while still letting flow/protocol/metric aggregation see the frame.
func (m *Model) touchDevice(mac frame.MAC, nowMicro int64) *Device {
	if mac.IsZero() || mac.IsMulticast() {
		return nil
	}
	h := hashMAC(mac)
	d, created := m.devices.GetOrCreate(h, mac, func() *Device {
		prefix := mac.OUI()
		vendor := m.vendors.lookup(prefix)
		return newDevice(mac, nowMicro, vendor, oui.PrefixHex(prefix))
	})
	if created {
		m.metrics.DevicesTracked.Set(float64(m.devices.Len()))
		if m.events != nil {
			m.events.NewDevice(mac, nowMicro)
		}
	}
	return d
}

func (m *Model) touchDeviceIP(mac frame.MAC, ip [4]byte, vlanID uint16, nowMicro int64) {
	vlan := sentinelVLAN
	if vlanID != 0 {
		vlan = uint32(vlanID)
	}
	key := DeviceIPKey{MAC: mac, IP: ip, VLAN: vlan}
	h := hashDeviceIPKey(key)
	rec, _ := m.deviceIPs.GetOrCreate(h, key, func() *DeviceIP {
		return newDeviceIP(key, nowMicro)
	})
	rec.touchLastSeen(nowMicro)
	rec.Packets.Add(1)
}

func (m *Model) touchVLAN(f *frame.Canonical, nowMicro int64) {
	outer := sentinelVLAN
	vlanID := f.OuterVLAN.ID
	if f.HasInnerVLAN {
		outer = uint32(f.OuterVLAN.ID)
		vlanID = f.InnerVLAN.ID
	}
	key := VLANKey{VLANID: vlanID, OuterVLANID: outer}
	h := hashVLANKey(key)
	rec, _ := m.vlans.GetOrCreate(h, key, func() *VLANCatalog {
		return newVLANCatalog(key)
	})
	rec.Packets.Add(1)
	rec.Bytes.Add(int64(f.FrameSize))
}

func (m *Model) touchFlow(key FlowKey, nowMicro int64, f *frame.Canonical) *Flow {
	h := hashFlowKey(key)
	flow, created := m.flows.GetOrCreate(h, key, func() *Flow {
		return newFlow(key, nowMicro)
	})
	flow.touchLastSeen(nowMicro)
	flow.Packets.Add(1)
	flow.Bytes.Add(int64(f.FrameSize))
	if f.HasL4 && f.IPProto == frame.ProtoTCP {
		flow.addTCPFlags(f.TCPFlags)
	}
	if created {
		m.metrics.FlowsTracked.Set(float64(m.flows.Len()))
		if m.events != nil {
			m.events.NewFlow(key, nowMicro)
		}
	}
	return flow
}

func (m *Model) touchProtocol(f *frame.Canonical, nowMicro int64) {
	key := ProtocolKey{EtherType: f.EtherType}
	if f.HasIPv4 {
		key.IPProtocol = f.IPProto
		key.HasIPProto = true
	}
	h := hashProtocolKey(key)
	rec, _ := m.protocols.GetOrCreate(h, key, func() *Protocol {
		return newProtocol(key)
	})
	rec.Packets.Add(1)
	rec.Bytes.Add(int64(f.FrameSize))
}

// flowAge pairs a flow key with its last_seen timestamp for LRU eviction
// selection.
type flowAge struct {
	key      FlowKey
	lastSeen int64
}

func (m *Model) touchBuckets(f *frame.Canonical, srcDevice, dstDevice *Device, flow *Flow, nowMicro int64) {
	bucketStart := bucketStartUnixSec(nowMicro, m.cfg.BucketSizeSecs)
	isTCP := f.HasL4 && f.IPProto == frame.ProtoTCP

	if srcDevice != nil {
		m.bucketFor(bucketStart, hashMAC(srcDevice.MAC), MetricDeviceOut).Observe(f.FrameSize, f.TCPFlags, isTCP)
	}
	if dstDevice != nil {
		m.bucketFor(bucketStart, hashMAC(dstDevice.MAC), MetricDeviceIn).Observe(f.FrameSize, f.TCPFlags, isTCP)
	}
	m.bucketFor(bucketStart, hashFlowKey(flow.Key), MetricFlow).Observe(f.FrameSize, f.TCPFlags, isTCP)
}

func (m *Model) bucketFor(bucketStart int64, entityHash uint64, metricType MetricType) *Bucket {
	key := BucketKey{BucketStartUnixSec: bucketStart, EntityHash: entityHash, MetricType: metricType}
	rec, _ := m.buckets.GetOrCreate(entityHash^uint64(bucketStart), key, func() *Bucket {
		return newBucket(key)
	})
	return rec
}

func bucketStartUnixSec(tsMicro int64, bucketSizeSecs int64) int64 {
	if bucketSizeSecs <= 0 {
		bucketSizeSecs = 60
	}
	sec := tsMicro / int64(time.Second/time.Microsecond)
	return sec - (sec % bucketSizeSecs)
}

// enforceFlowCap evicts the oldest flows by last_seen when the tracked
// flow count exceeds flow_cap (§4.5). Eviction collects every tracked flow
// and insertion-sorts them by last_seen, which is O(n^2) in the flow
// count; it only runs when the cap is actually exceeded, not on every
// frame.
func (m *Model) enforceFlowCap() {
	if m.cfg.FlowCap <= 0 {
		return
	}
	count := m.flows.Len()
	if count <= m.cfg.FlowCap {
		return
	}
	excess := count - m.cfg.FlowCap

	var oldest []flowAge
	m.flows.Range(func(key FlowKey, f *Flow) bool {
		oldest = append(oldest, flowAge{key: key, lastSeen: f.LastSeenMicro()})
		return true
	})
	if len(oldest) <= excess {
		return
	}
	// Partial selection: find the `excess` smallest last_seen values.
	// A full sort is simplest to reason about and flow_cap overruns are
	// expected to be rare and small relative to flow_cap itself.
	sortByLastSeen(oldest)
	toEvict := make(map[FlowKey]bool, excess)
	for i := 0; i < excess && i < len(oldest); i++ {
		toEvict[oldest[i].key] = true
	}

	evicted := m.flows.DeleteMatching(func(key FlowKey, _ *Flow) bool {
		return toEvict[key]
	})
	for _, f := range evicted {
		m.metrics.FlowsEvicted.Inc()
		if m.eviction != nil {
			m.eviction.FlowEvicted(f)
		}
	}
	m.metrics.FlowsTracked.Set(float64(m.flows.Len()))
}

func sortByLastSeen(c []flowAge) {
	// insertion sort over every tracked flow passed in (not only the ones
	// about to be evicted): O(n^2) in the flow count, stable, and
	// dependency-free.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].lastSeen < c[j-1].lastSeen; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
