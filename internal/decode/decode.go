// Package decode implements C2: total, byte-exact, allocation-free parsing
// of raw Ethernet frame slices into Canonical Frames (§4.2).
//
// Grounded on the manual byte-offset header-walking style in
// other_examples/…reshwanthmanupati-NetWeaver…sflow-parser.go and
// other_examples/…postmanlabs-observability-cli…pcap-net_parse.go, rather
// than gopacket/layers: §4.2 requires allocation-free fixed-struct output,
// which layers.Layer's interface-heavy decode does not give for free.
package decode

import (
	"encoding/binary"
	"time"

	"github.com/netsentinel/netsentinel/internal/frame"
)

// Reason identifies why a frame was dropped, for the malformed counter
// (§4.2 rule 6, tagged by failing layer).
type Reason string

const (
	ReasonShortL2      Reason = "short_l2"
	ReasonMalformedL3  Reason = "malformed_l3"
	ReasonMalformedL4  Reason = "malformed_l4"
	ReasonMalformedTag Reason = "malformed_tag"
)

// Error reports a decode failure along with its layer/reason tag.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string { return "decode: " + string(e.Reason) }

const (
	minEthernetLen = 14 // dst(6) + src(6) + ethertype(2)
	vlanTagLen     = 4  // TCI(2) + inner ethertype(2)
	ipv4MinLen     = 20 // IHL=5 * 4 bytes
	tcpMinLen      = 20
	udpLen         = 8
)

// Decode parses one raw frame slice captured at ts on ifaceName into a
// Canonical Frame. raw is only read, never retained or mutated (the caller
// owns its lifetime per the ring-buffer contract in §4.1). Decoding is
// pure: the same raw bytes and ts always produce the same result (§8
// property 2), and every populated field corresponds to a header that was
// fully validated (§4.2 "byte-exact and total").
func Decode(raw []byte, ifaceName string, ts time.Time) (frame.Canonical, error) {
	var c frame.Canonical
	c.TimestampUnixMicro = ts.UnixMicro()
	c.Interface = ifaceName
	c.FrameSize = uint32(len(raw))

	if len(raw) < minEthernetLen {
		return c, &Error{Reason: ReasonShortL2}
	}

	copy(c.DstMAC[:], raw[0:6])
	copy(c.SrcMAC[:], raw[6:12])

	etherType := binary.BigEndian.Uint16(raw[12:14])
	offset := 14

	switch etherType {
	case frame.EtherType8021Q:
		tag, next, ok := readVLANTag(raw, offset)
		if !ok {
			return c, &Error{Reason: ReasonMalformedTag}
		}
		c.HasOuterVLAN = true
		c.OuterVLAN = tag
		etherType = binary.BigEndian.Uint16(raw[next-2 : next])
		offset = next

	case frame.EtherType8021AD:
		outerTag, next, ok := readVLANTag(raw, offset)
		if !ok {
			return c, &Error{Reason: ReasonMalformedTag}
		}
		c.HasOuterVLAN = true
		c.OuterVLAN = outerTag
		offset = next
		innerEtherType := binary.BigEndian.Uint16(raw[offset-2 : offset])

		if innerEtherType == frame.EtherType8021Q {
			innerTag, next2, ok := readVLANTag(raw, offset)
			if !ok {
				return c, &Error{Reason: ReasonMalformedTag}
			}
			c.HasInnerVLAN = true
			c.InnerVLAN = innerTag
			etherType = binary.BigEndian.Uint16(raw[next2-2 : next2])
			offset = next2
		} else {
			// No inner 802.1Q tag: treat the outer tag as a single VLAN (§4.2 rule 3).
			etherType = innerEtherType
		}
	}

	c.EtherType = etherType

	if etherType != frame.EtherTypeIPv4 {
		c.PayloadSize = c.FrameSize - uint32(offset)
		return c, nil
	}

	if len(raw) < offset+ipv4MinLen {
		return c, &Error{Reason: ReasonMalformedL3}
	}

	ipHeader := raw[offset:]
	versionIHL := ipHeader[0]
	version := versionIHL >> 4
	ihl := int(versionIHL&0x0F) * 4
	totalLength := int(binary.BigEndian.Uint16(ipHeader[2:4]))

	if version != 4 || ihl < ipv4MinLen || totalLength < ihl {
		return c, &Error{Reason: ReasonMalformedL3}
	}
	if len(ipHeader) < ihl {
		return c, &Error{Reason: ReasonMalformedL3}
	}

	c.HasIPv4 = true
	c.IPTTL = ipHeader[8]
	c.IPProto = ipHeader[9]
	copy(c.SrcIP[:], ipHeader[12:16])
	copy(c.DstIP[:], ipHeader[16:20])

	l4Offset := offset + ihl

	switch c.IPProto {
	case frame.ProtoTCP:
		if len(raw) < l4Offset+tcpMinLen {
			return c, &Error{Reason: ReasonMalformedL4}
		}
		tcpHeader := raw[l4Offset:]
		c.HasL4 = true
		c.SrcPort = binary.BigEndian.Uint16(tcpHeader[0:2])
		c.DstPort = binary.BigEndian.Uint16(tcpHeader[2:4])
		c.TCPFlags = tcpHeader[13] & 0x3F // low 6 bits: FIN,SYN,RST,PSH,ACK,URG

	case frame.ProtoUDP:
		if len(raw) < l4Offset+udpLen {
			return c, &Error{Reason: ReasonMalformedL4}
		}
		udpHeader := raw[l4Offset:]
		c.HasL4 = true
		c.SrcPort = binary.BigEndian.Uint16(udpHeader[0:2])
		c.DstPort = binary.BigEndian.Uint16(udpHeader[2:4])

	default:
		// ICMP, GRE, ESP, OSPF and anything else: recorded at L3 only (§4.2 rule 5).
	}

	// payload_size excludes the L4 header when one was parsed; TCP options
	// are not accounted for (tcpMinLen assumes a bare 20-byte header).
	headerLen := l4Offset
	switch c.IPProto {
	case frame.ProtoTCP:
		headerLen += tcpMinLen
	case frame.ProtoUDP:
		headerLen += udpLen
	}
	c.PayloadSize = c.FrameSize - uint32(headerLen)

	return c, nil
}

// readVLANTag reads one 4-byte 802.1Q/802.1ad tag (TCI + inner ethertype)
// starting at offset, returning the parsed tag and the offset just past it.
func readVLANTag(raw []byte, offset int) (frame.VLANTag, int, bool) {
	if len(raw) < offset+vlanTagLen {
		return frame.VLANTag{}, 0, false
	}
	tci := binary.BigEndian.Uint16(raw[offset : offset+2])
	tag := frame.VLANTag{
		ID:       tci & 0x0FFF,
		Priority: uint8(tci >> 13),
		DEI:      tci&0x1000 != 0,
	}
	return tag, offset + vlanTagLen, true
}
