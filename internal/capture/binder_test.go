package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingSizingRejectsNonPositiveSnapLength(t *testing.T) {
	_, _, _, err := ringSizing(0, 2048)
	require.Error(t, err)
}

func TestRingSizingDefaultsFrameCount(t *testing.T) {
	frameSize, blockSize, numBlocks, err := ringSizing(65536, 0)
	require.NoError(t, err)
	require.Equal(t, 65536, frameSize) // already a power of two
	require.Greater(t, blockSize, 0)
	require.Greater(t, numBlocks, 0)
}

func TestNextPowerOfTwo(t *testing.T) {
	require.Equal(t, 1, nextPowerOfTwo(0))
	require.Equal(t, 128, nextPowerOfTwo(100))
	require.Equal(t, 65536, nextPowerOfTwo(65536))
}
