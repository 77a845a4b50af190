package persist

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/netsentinel/netsentinel/internal/frame"
)

func TestIpv4FromUint32(t *testing.T) {
	require.Equal(t, "10.0.0.1", ipv4FromUint32(0x0A000001))
	require.Equal(t, "255.255.255.255", ipv4FromUint32(0xFFFFFFFF))
	require.Equal(t, "0.0.0.0", ipv4FromUint32(0))
}

func TestIpString(t *testing.T) {
	require.Equal(t, "192.168.1.100", ipString([4]byte{192, 168, 1, 100}))
}

func TestIsConstraintViolation(t *testing.T) {
	require.True(t, isConstraintViolation(&pgconn.PgError{Code: "23505"}))
	require.True(t, isConstraintViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isConstraintViolation(&pgconn.PgError{Code: "53300"})) // too_many_connections
	require.False(t, isConstraintViolation(nil))
}

func TestNullIfZero(t *testing.T) {
	require.Nil(t, nullIfZero(0))
	require.Equal(t, int64(5), nullIfZero(5))
}

func TestResolveDeviceIDOrNullForMulticast(t *testing.T) {
	p := &Persister{deviceIDCache: make(map[frame.MAC]int64)}
	bcst := frame.MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	require.Nil(t, p.resolveDeviceIDOrNull(bcst))
}
