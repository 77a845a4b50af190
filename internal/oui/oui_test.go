package oui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVendorKnownPrefix(t *testing.T) {
	require.Equal(t, "VMware", Vendor([3]byte{0x00, 0x50, 0x56}))
}

func TestVendorUnknownPrefix(t *testing.T) {
	require.Equal(t, "", Vendor([3]byte{0xDE, 0xAD, 0xBE}))
}

func TestPrefixHex(t *testing.T) {
	require.Equal(t, "005056", PrefixHex([3]byte{0x00, 0x50, 0x56}))
}
