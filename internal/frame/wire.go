package frame

import (
	"encoding/binary"
	"fmt"
)

// WireVersion1 is the only encoding version implemented; the version byte
// (§6.1) lets future revisions add fields without breaking old consumers.
const WireVersion1 byte = 1

// recordSize is the fixed on-wire size, in bytes, of one encoded Canonical
// frame at WireVersion1. Kept fixed-width so the decoder stays
// allocation-free and so a batch can be length-prefixed per record without
// a separate index.
//
// version(1) + ts(8) + srcMAC(6) + dstMAC(6) + etherType(2) +
// hasOuter(1) + outerVLAN(4) + hasInner(1) + innerVLAN(4) +
// hasIPv4(1) + srcIP(4) + dstIP(4) + proto(1) + ttl(1) +
// hasL4(1) + srcPort(2) + dstPort(2) + tcpFlags(1) +
// frameSize(4) + payloadSize(4)
const recordSize = 1 + 8 + 6 + 6 + 2 + 1 + 4 + 1 + 4 + 1 + 4 + 4 + 1 + 1 + 1 + 2 + 2 + 1 + 4 + 4

// EncodeRecord appends the wire encoding of c to dst and returns the
// extended slice. ifaceName is encoded separately per-batch (§6.1: the
// batch carries interface_name once), not per-record.
func EncodeRecord(dst []byte, c *Canonical) []byte {
	var buf [recordSize]byte
	i := 0
	buf[i] = WireVersion1
	i++
	binary.BigEndian.PutUint64(buf[i:], uint64(c.TimestampUnixMicro))
	i += 8
	copy(buf[i:i+6], c.SrcMAC[:])
	i += 6
	copy(buf[i:i+6], c.DstMAC[:])
	i += 6
	binary.BigEndian.PutUint16(buf[i:], c.EtherType)
	i += 2

	buf[i] = boolByte(c.HasOuterVLAN)
	i++
	i += putVLAN(buf[i:], c.OuterVLAN)

	buf[i] = boolByte(c.HasInnerVLAN)
	i++
	i += putVLAN(buf[i:], c.InnerVLAN)

	buf[i] = boolByte(c.HasIPv4)
	i++
	binary.BigEndian.PutUint32(buf[i:], beUint32(c.SrcIP))
	i += 4
	binary.BigEndian.PutUint32(buf[i:], beUint32(c.DstIP))
	i += 4
	buf[i] = c.IPProto
	i++
	buf[i] = c.IPTTL
	i++

	buf[i] = boolByte(c.HasL4)
	i++
	binary.BigEndian.PutUint16(buf[i:], c.SrcPort)
	i += 2
	binary.BigEndian.PutUint16(buf[i:], c.DstPort)
	i += 2
	buf[i] = c.TCPFlags
	i++

	binary.BigEndian.PutUint32(buf[i:], c.FrameSize)
	i += 4
	binary.BigEndian.PutUint32(buf[i:], c.PayloadSize)
	i += 4

	if i != recordSize {
		panic(fmt.Sprintf("frame: encoder wrote %d bytes, want %d", i, recordSize))
	}
	return append(dst, buf[:]...)
}

// DecodeRecord reads one record from src, returning the decoded frame and
// the number of bytes consumed. An unsupported version byte is an error so
// future formats fail closed rather than misparse.
func DecodeRecord(src []byte) (Canonical, int, error) {
	if len(src) < 1 {
		return Canonical{}, 0, fmt.Errorf("frame: empty record")
	}
	if src[0] != WireVersion1 {
		return Canonical{}, 0, fmt.Errorf("frame: unsupported wire version %d", src[0])
	}
	if len(src) < recordSize {
		return Canonical{}, 0, fmt.Errorf("frame: short record: have %d want %d", len(src), recordSize)
	}

	var c Canonical
	i := 1
	c.TimestampUnixMicro = int64(binary.BigEndian.Uint64(src[i:]))
	i += 8
	copy(c.SrcMAC[:], src[i:i+6])
	i += 6
	copy(c.DstMAC[:], src[i:i+6])
	i += 6
	c.EtherType = binary.BigEndian.Uint16(src[i:])
	i += 2

	c.HasOuterVLAN = src[i] != 0
	i++
	c.OuterVLAN, i = getVLAN(src, i)

	c.HasInnerVLAN = src[i] != 0
	i++
	c.InnerVLAN, i = getVLAN(src, i)

	c.HasIPv4 = src[i] != 0
	i++
	putBeBytes(&c.SrcIP, binary.BigEndian.Uint32(src[i:]))
	i += 4
	putBeBytes(&c.DstIP, binary.BigEndian.Uint32(src[i:]))
	i += 4
	c.IPProto = src[i]
	i++
	c.IPTTL = src[i]
	i++

	c.HasL4 = src[i] != 0
	i++
	c.SrcPort = binary.BigEndian.Uint16(src[i:])
	i += 2
	c.DstPort = binary.BigEndian.Uint16(src[i:])
	i += 2
	c.TCPFlags = src[i]
	i++

	c.FrameSize = binary.BigEndian.Uint32(src[i:])
	i += 4
	c.PayloadSize = binary.BigEndian.Uint32(src[i:])
	i += 4

	return c, i, nil
}

func putVLAN(dst []byte, v VLANTag) int {
	binary.BigEndian.PutUint16(dst, v.ID)
	dst[2] = v.Priority
	dst[3] = boolByte(v.DEI)
	return 4
}

func getVLAN(src []byte, i int) (VLANTag, int) {
	v := VLANTag{
		ID:       binary.BigEndian.Uint16(src[i:]),
		Priority: src[i+2],
		DEI:      src[i+3] != 0,
	}
	return v, i + 4
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func beUint32(ip [4]byte) uint32 {
	return binary.BigEndian.Uint32(ip[:])
}

func putBeBytes(dst *[4]byte, v uint32) {
	binary.BigEndian.PutUint32(dst[:], v)
}

// Batch is the decoded form of one stream entry (§6.1): the frames
// captured on a single interface within one batching window.
type Batch struct {
	InterfaceName string
	BatchTimestampUnixMicro int64
	Frames []Canonical
}

// EncodeBatch serializes a batch as a length-prefixed concatenation of
// frame records, per §6.1. The interface name and batch timestamp are
// carried in the stream entry's own fields by the streaming package; this
// function only encodes the frame payload.
func EncodeBatch(frames []Canonical) []byte {
	out := make([]byte, 0, 4+len(frames)*recordSize)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(frames)))
	out = append(out, countBuf[:]...)
	for i := range frames {
		out = EncodeRecord(out, &frames[i])
	}
	return out
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(src []byte) ([]Canonical, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("frame: batch too short for count prefix")
	}
	count := binary.BigEndian.Uint32(src[:4])
	src = src[4:]
	frames := make([]Canonical, 0, count)
	for i := uint32(0); i < count; i++ {
		c, n, err := DecodeRecord(src)
		if err != nil {
			return nil, fmt.Errorf("frame: decoding record %d/%d: %w", i, count, err)
		}
		frames = append(frames, c)
		src = src[n:]
	}
	return frames, nil
}
