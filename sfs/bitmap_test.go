package sfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreemapMarkUsedAndFree(t *testing.T) {
	fm := newFreemap(32)
	require.Equal(t, 32, fm.countFree())

	fm.markUsed(5)
	free, err := fm.isFree(5)
	require.NoError(t, err)
	require.False(t, free)
	require.Equal(t, 31, fm.countFree())

	fm.markFree(5)
	free, err = fm.isFree(5)
	require.NoError(t, err)
	require.True(t, free)
	require.Equal(t, 32, fm.countFree())
}

func TestFreemapMarkUsedTwicePanics(t *testing.T) {
	fm := newFreemap(8)
	fm.markUsed(0)
	require.Panics(t, func() { fm.markUsed(0) })
}

func TestFreemapMarkFreeTwicePanics(t *testing.T) {
	fm := newFreemap(8)
	require.Panics(t, func() { fm.markFree(0) })
}

func TestFreemapFirstFree(t *testing.T) {
	fm := newFreemap(16)
	for i := 0; i < 5; i++ {
		fm.markUsed(i)
	}
	require.Equal(t, 5, fm.firstFree(0))
	require.Equal(t, 5, fm.firstFree(5))
	require.Equal(t, 7, fm.firstFree(7))

	for i := 5; i < 16; i++ {
		fm.markUsed(i)
	}
	require.Equal(t, -1, fm.firstFree(0))
}

func TestFreemapRoundTrip(t *testing.T) {
	fm := newFreemap(64)
	fm.markUsed(0)
	fm.markUsed(10)
	fm.markUsed(63)

	b := fm.toBytes()
	fm2 := freemapFromBytes(b)
	require.Equal(t, fm.countFree(), fm2.countFree())
	for _, i := range []int{0, 1, 10, 11, 62, 63} {
		want, err := fm.isFree(i)
		require.NoError(t, err)
		got, err := fm2.isFree(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
