package decode

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/netsentinel/netsentinel/internal/frame"
	"github.com/stretchr/testify/require"
)

func buildEthernet(dst, src [6]byte, etherType uint16, payload []byte) []byte {
	out := make([]byte, 0, 14+len(payload))
	out = append(out, dst[:]...)
	out = append(out, src[:]...)
	var et [2]byte
	binary.BigEndian.PutUint16(et[:], etherType)
	out = append(out, et[:]...)
	out = append(out, payload...)
	return out
}

func buildIPv4TCP(srcIP, dstIP [4]byte, srcPort, dstPort uint16, flags uint8, extraPayload int) []byte {
	tcp := make([]byte, tcpMinLen+extraPayload)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	tcp[13] = flags

	ip := make([]byte, ipv4MinLen)
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipv4MinLen+len(tcp)))
	ip[8] = 64 // TTL
	ip[9] = frame.ProtoTCP
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])

	return append(ip, tcp...)
}

var (
	srcMAC = [6]byte{0xAA, 0xAA, 0xAA, 0x00, 0x00, 0x01}
	dstMAC = [6]byte{0xBB, 0xBB, 0xBB, 0x00, 0x00, 0x01}
)

func TestDecodeScenarioA_SingleTCPSYN(t *testing.T) {
	ip := buildIPv4TCP([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 54321, 80, frame.TCPFlagSYN, 0)
	raw := buildEthernet(dstMAC, srcMAC, frame.EtherTypeIPv4, ip)
	// Pad to the scenario's stated 74-byte frame size.
	for len(raw) < 74 {
		raw = append(raw, 0)
	}

	c, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, c.HasIPv4)
	require.True(t, c.HasL4)
	require.Equal(t, uint8(frame.ProtoTCP), c.IPProto)
	require.Equal(t, uint16(54321), c.SrcPort)
	require.Equal(t, uint16(80), c.DstPort)
	require.Equal(t, frame.TCPFlagSYN, c.TCPFlags)
	require.Equal(t, uint32(74), c.FrameSize)
	require.Equal(t, frame.MAC(srcMAC), c.SrcMAC)
	require.Equal(t, frame.MAC(dstMAC), c.DstMAC)
}

func TestDecodeMinimumFrame(t *testing.T) {
	raw := buildEthernet(dstMAC, srcMAC, 0x1234, nil)
	c, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.NoError(t, err)
	require.False(t, c.HasIPv4)
	require.False(t, c.HasL4)
	require.Equal(t, uint32(14), c.FrameSize)
	require.Equal(t, uint32(0), c.PayloadSize)
}

func TestDecodeShortFrameDropped(t *testing.T) {
	raw := make([]byte, 10)
	_, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ReasonShortL2, derr.Reason)
}

func TestDecodeMalformedIPv4IHL(t *testing.T) {
	ip := make([]byte, ipv4MinLen)
	ip[0] = 0x44 // version 4, IHL=4 (invalid: < 5)
	binary.BigEndian.PutUint16(ip[2:4], 20)
	raw := buildEthernet(dstMAC, srcMAC, frame.EtherTypeIPv4, ip)

	_, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ReasonMalformedL3, derr.Reason)
}

func TestDecodeVLAN100(t *testing.T) {
	ip := buildIPv4TCP([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 54321, 80, frame.TCPFlagSYN, 0)

	// 802.1Q tag: VID=100, PCP=0, DEI=0, then inner ethertype IPv4.
	vlan := make([]byte, 4)
	binary.BigEndian.PutUint16(vlan[0:2], 100)
	binary.BigEndian.PutUint16(vlan[2:4], frame.EtherTypeIPv4)

	raw := buildEthernet(dstMAC, srcMAC, frame.EtherType8021Q, append(vlan, ip...))

	c, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, c.HasOuterVLAN)
	require.False(t, c.HasInnerVLAN)
	require.Equal(t, uint16(100), c.OuterVLAN.ID)
	require.Equal(t, uint16(100), c.VLANID())
	require.Equal(t, uint16(0), c.OuterVLANID())
	require.True(t, c.HasIPv4)
}

func TestDecodeQinQOuter200Inner100(t *testing.T) {
	ip := buildIPv4TCP([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 54321, 80, frame.TCPFlagSYN, 0)

	inner := make([]byte, 4)
	binary.BigEndian.PutUint16(inner[0:2], 100)
	binary.BigEndian.PutUint16(inner[2:4], frame.EtherTypeIPv4)

	outer := make([]byte, 4)
	binary.BigEndian.PutUint16(outer[0:2], 200)
	binary.BigEndian.PutUint16(outer[2:4], frame.EtherType8021Q)

	payload := append(outer, append(inner, ip...)...)
	raw := buildEthernet(dstMAC, srcMAC, frame.EtherType8021AD, payload)

	c, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, c.HasOuterVLAN)
	require.True(t, c.HasInnerVLAN)
	require.Equal(t, uint16(200), c.OuterVLAN.ID)
	require.Equal(t, uint16(100), c.InnerVLAN.ID)
	require.Equal(t, uint16(100), c.VLANID())
	require.Equal(t, uint16(200), c.OuterVLANID())
	require.True(t, c.HasIPv4)
}

func TestDecodeIsPure(t *testing.T) {
	ip := buildIPv4TCP([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 1, 2, frame.TCPFlagACK, 0)
	raw := buildEthernet(dstMAC, srcMAC, frame.EtherTypeIPv4, ip)

	ts := time.Unix(1_700_000_000, 0)
	a, errA := Decode(raw, "eth0", ts)
	b, errB := Decode(raw, "eth0", ts)
	require.NoError(t, errA)
	require.NoError(t, errB)
	require.Equal(t, a, b)
}

func TestDecodeUDP(t *testing.T) {
	udp := make([]byte, udpLen)
	binary.BigEndian.PutUint16(udp[0:2], 5000)
	binary.BigEndian.PutUint16(udp[2:4], 5000)

	ipHeader := make([]byte, ipv4MinLen)
	ipHeader[0] = 0x45
	binary.BigEndian.PutUint16(ipHeader[2:4], uint16(ipv4MinLen+len(udp)))
	ipHeader[9] = frame.ProtoUDP
	copy(ipHeader[12:16], []byte{10, 0, 0, 1})
	copy(ipHeader[16:20], []byte{255, 255, 255, 255})

	raw := buildEthernet(srcMAC, [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, frame.EtherTypeIPv4, append(ipHeader, udp...))

	c, err := Decode(raw, "eth0", time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, c.HasL4)
	require.Equal(t, uint16(5000), c.SrcPort)
	require.Equal(t, uint16(5000), c.DstPort)
}
