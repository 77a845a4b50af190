package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/netsentinel/netsentinel/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestModel(t *testing.T, cfg Config) (*Model, *fakeSink) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewAggregator(reg)
	sink := &fakeSink{}
	return New(cfg, sink, sink, m), sink
}

type fakeSink struct {
	newDevices []frame.MAC
	newFlows   []FlowKey
	evicted    []*Flow
}

func (f *fakeSink) NewDevice(mac frame.MAC, firstSeenMicro int64) {
	f.newDevices = append(f.newDevices, mac)
}

func (f *fakeSink) NewFlow(key FlowKey, firstSeenMicro int64) {
	f.newFlows = append(f.newFlows, key)
}

func (f *fakeSink) FlowEvicted(flow *Flow) {
	f.evicted = append(f.evicted, flow)
}

var (
	macA = frame.MAC{0xAA, 0xAA, 0xAA, 0x00, 0x00, 0x01}
	macB = frame.MAC{0xBB, 0xBB, 0xBB, 0x00, 0x00, 0x01}
	bcst = frame.MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

func scenarioAFrame() *frame.Canonical {
	return &frame.Canonical{
		TimestampUnixMicro: 1_700_000_000_000_000,
		Interface:          "eth0",
		SrcMAC:             macA,
		DstMAC:             macB,
		EtherType:          frame.EtherTypeIPv4,
		HasIPv4:            true,
		SrcIP:              [4]byte{10, 0, 0, 1},
		DstIP:              [4]byte{10, 0, 0, 2},
		IPProto:            frame.ProtoTCP,
		IPTTL:              64,
		HasL4:              true,
		SrcPort:            54321,
		DstPort:            80,
		TCPFlags:           frame.TCPFlagSYN,
		FrameSize:          74,
		PayloadSize:        0,
	}
}

func TestApplyScenarioA_SingleTCPSYN(t *testing.T) {
	m, sink := newTestModel(t, Config{FlowCap: 0})
	f := scenarioAFrame()

	m.Apply(f)

	require.Equal(t, 2, m.devices.Len())
	require.Equal(t, 1, m.flows.Len())
	require.ElementsMatch(t, []frame.MAC{macA, macB}, sink.newDevices)
	require.Len(t, sink.newFlows, 1)

	src, ok := m.devices.Get(hashMAC(macA), macA)
	require.True(t, ok)
	require.EqualValues(t, 1, src.PacketsSent.Cumulative())
	require.EqualValues(t, 74, src.BytesSent.Cumulative())

	dst, ok := m.devices.Get(hashMAC(macB), macB)
	require.True(t, ok)
	require.EqualValues(t, 1, dst.PacketsReceived.Cumulative())

	key := flowKeyFor(f)
	flow, ok := m.flows.Get(hashFlowKey(key), key)
	require.True(t, ok)
	require.EqualValues(t, 1, flow.Packets.Cumulative())
	require.EqualValues(t, 74, flow.Bytes.Cumulative())
	require.Equal(t, frame.TCPFlagSYN, flow.TCPFlagsSeen())

	_, ok = m.deviceIPs.Get(hashDeviceIPKey(DeviceIPKey{MAC: macA, IP: f.SrcIP, VLAN: sentinelVLAN}), DeviceIPKey{MAC: macA, IP: f.SrcIP, VLAN: sentinelVLAN})
	require.True(t, ok)
}

func TestApplyScenarioB_VLAN100(t *testing.T) {
	m, _ := newTestModel(t, Config{})
	f := scenarioAFrame()
	f.HasOuterVLAN = true
	f.OuterVLAN = frame.VLANTag{ID: 100}

	m.Apply(f)

	require.Equal(t, 1, m.vlans.Len())
	vlanKey := VLANKey{VLANID: 100, OuterVLANID: sentinelVLAN}
	v, ok := m.vlans.Get(hashVLANKey(vlanKey), vlanKey)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Packets.Cumulative())

	key := flowKeyFor(f)
	require.Equal(t, uint16(100), key.VLANID)
}

func TestApplyScenarioC_QinQOuter200Inner100(t *testing.T) {
	m, _ := newTestModel(t, Config{})
	f := scenarioAFrame()
	f.HasOuterVLAN = true
	f.OuterVLAN = frame.VLANTag{ID: 200}
	f.HasInnerVLAN = true
	f.InnerVLAN = frame.VLANTag{ID: 100}

	m.Apply(f)

	vlanKey := VLANKey{VLANID: 100, OuterVLANID: 200}
	v, ok := m.vlans.Get(hashVLANKey(vlanKey), vlanKey)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Packets.Cumulative())

	key := flowKeyFor(f)
	require.Equal(t, uint16(100), key.VLANID, "flow key VLAN uses the inner tag for QinQ frames")
}

func TestApplyScenarioD_BroadcastUDPSuppressesDeviceButNotFlow(t *testing.T) {
	m, sink := newTestModel(t, Config{})

	base := &frame.Canonical{
		SrcMAC:    macA,
		DstMAC:    bcst,
		EtherType: frame.EtherTypeIPv4,
		HasIPv4:   true,
		SrcIP:     [4]byte{10, 0, 0, 1},
		DstIP:     [4]byte{255, 255, 255, 255},
		IPProto:   frame.ProtoUDP,
		HasL4:     true,
		SrcPort:   5000,
		DstPort:   5000,
		FrameSize: 100,
	}

	for i := 0; i < 10_000; i++ {
		f := *base
		f.TimestampUnixMicro = int64(1_700_000_000_000_000 + i*1000)
		m.Apply(&f)
	}

	// Only the source device is tracked; the broadcast MAC never becomes a
	// CMDB row (resolved Open Question: multicast/broadcast filtered from
	// device creation but still counted in flow aggregates).
	require.Equal(t, 1, m.devices.Len())
	_, ok := m.devices.Get(hashMAC(bcst), bcst)
	require.False(t, ok)

	require.Equal(t, 1, m.flows.Len())
	key := flowKeyFor(base)
	flow, ok := m.flows.Get(hashFlowKey(key), key)
	require.True(t, ok)
	require.EqualValues(t, 10_000, flow.Packets.Cumulative())
	require.EqualValues(t, 1_000_000, flow.Bytes.Cumulative())

	require.Len(t, sink.newDevices, 1)
}

func TestEnforceFlowCapEvictsOldestByLastSeen(t *testing.T) {
	m, sink := newTestModel(t, Config{FlowCap: 2})

	mk := func(port uint16, ts int64) *frame.Canonical {
		return &frame.Canonical{
			TimestampUnixMicro: ts,
			SrcMAC:             macA,
			DstMAC:             macB,
			EtherType:          frame.EtherTypeIPv4,
			HasIPv4:            true,
			SrcIP:              [4]byte{10, 0, 0, 1},
			DstIP:              [4]byte{10, 0, 0, 2},
			IPProto:            frame.ProtoUDP,
			HasL4:              true,
			SrcPort:            port,
			DstPort:            53,
			FrameSize:          60,
		}
	}

	m.Apply(mk(1, 100))
	m.Apply(mk(2, 200))
	m.Apply(mk(3, 300))

	require.Equal(t, 2, m.flows.Len())
	require.Len(t, sink.evicted, 1)
	require.Equal(t, uint16(1), sink.evicted[0].Key.SrcPort, "the oldest-last-seen flow (port 1) is evicted first")

	key2 := flowKeyFor(mk(2, 200))
	_, ok := m.flows.Get(hashFlowKey(key2), key2)
	require.True(t, ok)
	key3 := flowKeyFor(mk(3, 300))
	_, ok = m.flows.Get(hashFlowKey(key3), key3)
	require.True(t, ok)
}

func TestApplyProtocolCounters(t *testing.T) {
	m, _ := newTestModel(t, Config{})
	f := scenarioAFrame()
	m.Apply(f)

	protoKey := ProtocolKey{EtherType: frame.EtherTypeIPv4, IPProtocol: frame.ProtoTCP, HasIPProto: true}
	p, ok := m.protocols.Get(hashProtocolKey(protoKey), protoKey)
	require.True(t, ok)
	require.EqualValues(t, 1, p.Packets.Cumulative())
}

func TestApplyBucketsObservePacketSizeAndSYN(t *testing.T) {
	m, _ := newTestModel(t, Config{BucketSizeSecs: 60})
	f := scenarioAFrame()
	m.Apply(f)

	bucketStart := bucketStartUnixSec(f.TimestampUnixMicro, 60)
	outKey := BucketKey{BucketStartUnixSec: bucketStart, EntityHash: hashMAC(macA), MetricType: MetricDeviceOut}
	b, ok := m.buckets.Get(hashMAC(macA)^uint64(bucketStart), outKey)
	require.True(t, ok)
	snap := b.Snapshot()
	require.EqualValues(t, 74, snap.MinPacketSize)
	require.EqualValues(t, 74, snap.MaxPacketSize)
	require.EqualValues(t, 1, snap.SYNCount)
}

func TestBucketStartUnixSecBucketsAlignToSize(t *testing.T) {
	require.Equal(t, int64(120), bucketStartUnixSec(125_000_000, 60))
	require.Equal(t, int64(0), bucketStartUnixSec(59_000_000, 60))
}
