// Package frame defines the Canonical Frame (§3) produced by the decoder
// and consumed by the aggregator's in-memory model, and its on-wire batch
// encoding (§6.1).
package frame

import "net"

// MAC is a fixed-size 6-byte hardware address, avoiding net.HardwareAddr's
// slice allocation on the decode hot path.
type MAC [6]byte

// String renders the MAC in colon-hex form.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether every byte is zero (used to mean "not present").
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsMulticast reports whether the I/G bit (low bit of the first octet) is
// set, which covers both multicast and broadcast addresses.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// OUI returns the first three octets, the vendor-identifying prefix.
func (m MAC) OUI() [3]byte {
	return [3]byte{m[0], m[1], m[2]}
}

// VLANTag holds one 802.1Q/802.1ad tag's fields.
type VLANTag struct {
	ID       uint16 // 12-bit VID
	Priority uint8  // 3-bit PCP
	DEI      bool   // 1-bit drop-eligible indicator
}

// TCP flag bits, the six low bits captured per §4.2.
const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagPSH uint8 = 1 << 3
	TCPFlagACK uint8 = 1 << 4
	TCPFlagURG uint8 = 1 << 5
)

// IP protocol numbers the decoder understands at L4 or records at L3-only.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
	ProtoGRE  = 47
	ProtoESP  = 50
	ProtoOSPF = 89
)

// EtherType values the decoder recognizes.
const (
	EtherTypeIPv4   uint16 = 0x0800
	EtherType8021Q  uint16 = 0x8100
	EtherType8021AD uint16 = 0x88A8
)

// Canonical is the decoder's normalized representation of one frame's
// headers (§3). Zero-value optional fields (IPv4, VLANs, L4) are
// distinguished by their Has* flags, never by sentinel values, so a
// legitimately-zero IP or port is never confused with "absent".
type Canonical struct {
	TimestampUnixMicro int64
	Interface          string

	SrcMAC MAC
	DstMAC MAC

	EtherType uint16

	HasOuterVLAN bool
	OuterVLAN    VLANTag
	HasInnerVLAN bool
	InnerVLAN    VLANTag

	HasIPv4  bool
	SrcIP    [4]byte
	DstIP    [4]byte
	IPProto  uint8
	IPTTL    uint8

	HasL4    bool
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8 // only meaningful when IPProto == ProtoTCP

	FrameSize   uint32 // on-wire size in bytes
	PayloadSize uint32 // FrameSize minus parsed header length
}

// VLANID returns the flow-key VLAN id: the inner tag's id for QinQ frames,
// or the single tag's id otherwise, or 0 if untagged.
func (c *Canonical) VLANID() uint16 {
	if c.HasInnerVLAN {
		return c.InnerVLAN.ID
	}
	if c.HasOuterVLAN {
		return c.OuterVLAN.ID
	}
	return 0
}

// OuterVLANID returns the outer tag's id for a QinQ frame, or 0 if there is
// no outer tag distinct from VLANID (i.e. not QinQ).
func (c *Canonical) OuterVLANID() uint16 {
	if c.HasInnerVLAN {
		return c.OuterVLAN.ID
	}
	return 0
}
