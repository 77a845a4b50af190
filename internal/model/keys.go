package model

import (
	"hash/fnv"

	"github.com/netsentinel/netsentinel/internal/frame"
)

// sentinelVLAN stands in for "no VLAN" in unique-key tuples that COALESCE
// a nullable VLAN id against a sentinel (§3: Device-IP, VLAN catalog).
const sentinelVLAN uint32 = 0xFFFFFFFF

// DeviceIPKey is the (device, IP, optional VLAN) tuple (§3).
type DeviceIPKey struct {
	MAC frame.MAC
	IP  [4]byte
	VLAN uint32 // sentinelVLAN when absent
}

// VLANKey is the (vlan_id, outer_vlan_id) catalog key (§3).
type VLANKey struct {
	VLANID      uint16
	OuterVLANID uint32 // sentinelVLAN when absent (not QinQ)
}

// FlowKey is the 8-tuple flow key (§3): direction-specific, never
// normalized to a canonical (lower, higher) ordering — src and dst frames
// of the same conversation are two distinct Flow rows by design (§3's
// "directional tuple").
type FlowKey struct {
	SrcMAC     frame.MAC
	SrcIP      uint32
	SrcPort    uint16
	DstMAC     frame.MAC
	DstIP      uint32
	DstPort    uint16
	VLANID     uint16
	IPProtocol uint8
}

// ProtocolKey is the (ethertype, ip_protocol) catalog key (§3). HasIPProto
// distinguishes "no IP protocol" (non-IPv4 ethertype) from protocol 0.
type ProtocolKey struct {
	EtherType  uint16
	IPProtocol uint8
	HasIPProto bool
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

func hashMAC(m frame.MAC) uint64 {
	return hashBytes(m[:])
}

func hashDeviceIPKey(k DeviceIPKey) uint64 {
	buf := make([]byte, 0, 6+4+4)
	buf = append(buf, k.MAC[:]...)
	buf = append(buf, k.IP[:]...)
	buf = appendUint32(buf, k.VLAN)
	return hashBytes(buf)
}

func hashVLANKey(k VLANKey) uint64 {
	buf := make([]byte, 0, 6)
	buf = appendUint16(buf, k.VLANID)
	buf = appendUint32(buf, k.OuterVLANID)
	return hashBytes(buf)
}

func hashFlowKey(k FlowKey) uint64 {
	buf := make([]byte, 0, 6+4+2+6+4+2+2+1)
	buf = append(buf, k.SrcMAC[:]...)
	buf = appendUint32(buf, k.SrcIP)
	buf = appendUint16(buf, k.SrcPort)
	buf = append(buf, k.DstMAC[:]...)
	buf = appendUint32(buf, k.DstIP)
	buf = appendUint16(buf, k.DstPort)
	buf = appendUint16(buf, k.VLANID)
	buf = append(buf, k.IPProtocol)
	return hashBytes(buf)
}

func hashProtocolKey(k ProtocolKey) uint64 {
	buf := make([]byte, 0, 4)
	buf = appendUint16(buf, k.EtherType)
	buf = append(buf, k.IPProtocol)
	if k.HasIPProto {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return hashBytes(buf)
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ipToUint32 converts a 4-byte IP to its big-endian uint32 form for flow
// keys (0 means "no IPv4 present", per §3's "src_ip|0").
func ipToUint32(ip [4]byte) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
