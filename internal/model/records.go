package model

import (
	"sync"
	"sync/atomic"
)

// counterPair is the delta/cumulative counter pair (GLOSSARY): writers add
// to both; the persister atomically drains delta via Drain, leaving
// Cumulative as the running total used by invariant checks (§3 invariant 2).
type counterPair struct {
	cumulative atomic.Int64
	delta      atomic.Int64
}

func (c *counterPair) Add(n int64) {
	c.cumulative.Add(n)
	c.delta.Add(n)
}

// Drain atomically zeroes delta and returns the value it held, the A3
// snapshot-swap primitive (§4.6 step 1).
func (c *counterPair) Drain() int64 {
	return c.delta.Swap(0)
}

// Restore adds back a delta that failed to commit, summed with whatever
// accumulated concurrently during the failed attempt (§4.6 step 5).
func (c *counterPair) Restore(n int64) {
	c.delta.Add(n)
}

func (c *counterPair) Cumulative() int64 { return c.cumulative.Load() }

// maxInt64 atomically advances target to the max of its current value and
// v, looping on CompareAndSwap since two frames may race (§5: "last_seen
// uses max-over-atomic updates so wall-clock monotonicity need not be
// assumed").
func maxInt64(target *atomic.Int64, v int64) {
	for {
		cur := target.Load()
		if v <= cur {
			return
		}
		if target.CompareAndSwap(cur, v) {
			return
		}
	}
}

// orUint8 atomically ORs bits into target (TCP flags union, §3).
func orUint8(target *atomic.Uint32, bits uint8) {
	for {
		cur := target.Load()
		next := cur | uint32(bits)
		if next == cur {
			return
		}
		if target.CompareAndSwap(cur, next) {
			return
		}
	}
}

// DeviceType enumerates the CMDB device classifications (§3).
type DeviceType string

const (
	DeviceUnknown     DeviceType = "unknown"
	DeviceWorkstation DeviceType = "workstation"
	DeviceServer      DeviceType = "server"
	DeviceRouter      DeviceType = "router"
	DeviceSwitch      DeviceType = "switch"
	DeviceFirewall    DeviceType = "firewall"
	DevicePrinter     DeviceType = "printer"
	DeviceCamera      DeviceType = "camera"
	DeviceIoT         DeviceType = "iot"
	DevicePLC         DeviceType = "plc"
	DeviceHMI         DeviceType = "hmi"
	DeviceSCADA       DeviceType = "scada"
	DeviceMobile      DeviceType = "mobile"
	DeviceVirtual     DeviceType = "virtual"
)

// Device is A2's record for one MAC (§3). Counters are atomic; the
// operator-settable fields (Type, Name, Notes, flags) sit behind a small
// mutex since they are written rarely, off the per-frame hot path.
type Device struct {
	MAC          [6]byte
	OUIVendor    string
	OUIPrefixHex string

	FirstSeenMicro int64 // set once at creation, never mutated
	lastSeenMicro  atomic.Int64

	PacketsSent     counterPair
	PacketsReceived counterPair
	BytesSent       counterPair
	BytesReceived   counterPair

	mu        sync.Mutex
	kind      DeviceType
	name      string
	notes     string
	isGateway bool
	isFlagged bool
}

func newDevice(mac [6]byte, firstSeenMicro int64, oui, ouiPrefixHex string) *Device {
	d := &Device{
		MAC:            mac,
		OUIVendor:      oui,
		OUIPrefixHex:   ouiPrefixHex,
		FirstSeenMicro: firstSeenMicro,
		kind:           DeviceUnknown,
	}
	d.lastSeenMicro.Store(firstSeenMicro)
	return d
}

func (d *Device) touchLastSeen(tsMicro int64) { maxInt64(&d.lastSeenMicro, tsMicro) }

// LastSeenMicro returns the device's most recent observed timestamp.
func (d *Device) LastSeenMicro() int64 { return d.lastSeenMicro.Load() }

// IsActive reports whether the device was seen within window of now, per
// §3's derived is_active flag.
func (d *Device) IsActive(nowMicro int64, window int64) bool {
	return nowMicro-d.LastSeenMicro() < window
}

// Snapshot returns the mutable operator-set fields under lock, for
// persistence.
func (d *Device) Snapshot() (kind DeviceType, name, notes string, isGateway, isFlagged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind, d.name, d.notes, d.isGateway, d.isFlagged
}

// DeviceIP is A2's record for a (device, IP, vlan) tuple (§3).
type DeviceIP struct {
	Key            DeviceIPKey
	FirstSeenMicro int64
	lastSeenMicro  atomic.Int64
	Packets        counterPair
	Bytes          counterPair
}

func newDeviceIP(key DeviceIPKey, firstSeenMicro int64) *DeviceIP {
	d := &DeviceIP{Key: key, FirstSeenMicro: firstSeenMicro}
	d.lastSeenMicro.Store(firstSeenMicro)
	return d
}

func (d *DeviceIP) touchLastSeen(tsMicro int64) { maxInt64(&d.lastSeenMicro, tsMicro) }
func (d *DeviceIP) LastSeenMicro() int64        { return d.lastSeenMicro.Load() }

// VLANCatalog is A2's record for a (vlan_id, outer_vlan_id) catalog entry (§3).
type VLANCatalog struct {
	Key     VLANKey
	Packets counterPair
	Bytes   counterPair

	mu          sync.Mutex
	name        string
	description string
}

func newVLANCatalog(key VLANKey) *VLANCatalog {
	return &VLANCatalog{Key: key}
}

// Flow is A2's record for one directional 8-tuple (§3).
type Flow struct {
	Key            FlowKey
	FirstSeenMicro int64
	lastSeenMicro  atomic.Int64
	Packets        counterPair
	Bytes          counterPair
	tcpFlagsSeen   atomic.Uint32 // only the low 6 bits are ever set

	// Not populated by A2: the persister resolves the device ids from the
	// key's MACs when it writes the flow row, without storing them here
	// (§9: "Flows are keyed on MACs, not Device ids; this removes the need
	// for an ordered create-device-before-create-flow protocol inside A2").
	SrcDeviceID int64
	DstDeviceID int64
}

func newFlow(key FlowKey, firstSeenMicro int64) *Flow {
	f := &Flow{Key: key, FirstSeenMicro: firstSeenMicro}
	f.lastSeenMicro.Store(firstSeenMicro)
	return f
}

func (f *Flow) touchLastSeen(tsMicro int64) { maxInt64(&f.lastSeenMicro, tsMicro) }
func (f *Flow) LastSeenMicro() int64        { return f.lastSeenMicro.Load() }
func (f *Flow) addTCPFlags(bits uint8)      { orUint8(&f.tcpFlagsSeen, bits) }
func (f *Flow) TCPFlagsSeen() uint8         { return uint8(f.tcpFlagsSeen.Load()) }

// Protocol is A2's record for an (ethertype, ip_protocol) counter (§3).
type Protocol struct {
	Key     ProtocolKey
	Packets counterPair
	Bytes   counterPair
}

func newProtocol(key ProtocolKey) *Protocol {
	return &Protocol{Key: key}
}
