package sfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperBlockRoundTrip(t *testing.T) {
	sb := newSuperBlock(1000, 4)
	sb.UnusedBlocks = 900

	b := sb.toBytes()
	require.Len(t, b, BLKSIZE)

	got, err := superBlockFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, sb.Magic, got.Magic)
	require.Equal(t, sb.Blocks, got.Blocks)
	require.Equal(t, sb.UnusedBlocks, got.UnusedBlocks)
	require.Equal(t, sb.FreemapBlocks, got.FreemapBlocks)
	require.Equal(t, sb.UUID, got.UUID)
	require.True(t, got.Check())
}

func TestSuperBlockCheckRejectsBadMagic(t *testing.T) {
	sb := SuperBlock{Magic: 0xdeadbeef}
	require.False(t, sb.Check())
}

func TestSuperBlockUUIDIsUnique(t *testing.T) {
	a := newSuperBlock(10, 1)
	b := newSuperBlock(10, 1)
	require.NotEqual(t, a.UUID, b.UUID)
}
