//go:build linux

package capture

import (
	"golang.org/x/sys/unix"
)

// setPromiscuous toggles IFF_PROMISC on iface via a PACKET-domain socket
// ioctl, independent of the TPacket ring's own socket.
func setPromiscuous(iface string, enable bool) error {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifreq, err := unix.NewIfreq(iface)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifreq); err != nil {
		return err
	}
	flags := ifreq.Uint16()
	if enable {
		flags |= unix.IFF_PROMISC
	} else {
		flags &^= unix.IFF_PROMISC
	}
	ifreq.SetUint16(flags)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifreq)
}

// readLinkSpeedMbps best-effort reads the driver-reported link speed via
// ethtool ioctl. Unsupported drivers/permissions return 0, which is an
// acceptable "unknown" per §4.1's contract.
func readLinkSpeedMbps(iface string) int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0
	}
	defer unix.Close(fd)

	ifreq, err := unix.NewIfreq(iface)
	if err != nil {
		return 0
	}

	cmd := unix.EthtoolCmd{Cmd: unix.ETHTOOL_GSET}
	if err := unix.IoctlIfreqData(fd, unix.SIOCETHTOOL, ifreq, &cmd); err != nil {
		return 0
	}
	speed := cmd.Speed()
	if speed == 0xFFFF {
		return 0 // SPEED_UNKNOWN
	}
	return int(speed)
}
