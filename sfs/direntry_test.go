package sfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskEntryRoundTrip(t *testing.T) {
	e := diskEntry{ID: 42, Name: "hello.txt"}
	b, err := e.toBytes()
	require.NoError(t, err)
	require.Len(t, b, direntSize)

	got, err := diskEntryFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestDiskEntryNameTooLong(t *testing.T) {
	e := diskEntry{ID: 1, Name: strings.Repeat("a", maxFnameLen+1)}
	_, err := e.toBytes()
	require.Error(t, err)
}

func TestDiskEntryNameAtMaxLength(t *testing.T) {
	e := diskEntry{ID: 1, Name: strings.Repeat("a", maxFnameLen)}
	b, err := e.toBytes()
	require.NoError(t, err)
	got, err := diskEntryFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, e.Name, got.Name)
}
