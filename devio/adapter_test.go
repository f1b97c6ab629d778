package devio

import (
	"testing"

	"github.com/deathwish5/vfscore/devio/memdevice"
)

func TestByteAdapterRejectsOversizedBlock(t *testing.T) {
	dev := memdevice.New(4, 11) // 2KiB blocks, over the 1KiB scratch cap
	if _, err := NewByteAdapter(dev); err == nil {
		t.Fatalf("expected NewByteAdapter to reject a block size log2 of 11")
	}
}

func TestByteAdapterPartialBlockReadModifyWrite(t *testing.T) {
	dev := memdevice.New(4, 9) // 512 byte blocks
	a, err := NewByteAdapter(dev)
	if err != nil {
		t.Fatalf("NewByteAdapter: %v", err)
	}

	payload := []byte("partial-write-inside-one-block")
	n, err := a.WriteAt(100, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}

	got := make([]byte, len(payload))
	n, err = a.ReadAt(100, got)
	if err != nil || n != len(payload) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestByteAdapterSpansMultipleBlocks(t *testing.T) {
	dev := memdevice.New(8, 9) // 512 byte blocks, 4KiB total
	a, err := NewByteAdapter(dev)
	if err != nil {
		t.Fatalf("NewByteAdapter: %v", err)
	}

	payload := make([]byte, 1500)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := a.WriteAt(10, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}

	got := make([]byte, len(payload))
	n, err = a.ReadAt(10, got)
	if err != nil || n != len(payload) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestByteAdapterPreservesSurroundingBytesOnPartialWrite(t *testing.T) {
	dev := memdevice.New(2, 9)
	a, err := NewByteAdapter(dev)
	if err != nil {
		t.Fatalf("NewByteAdapter: %v", err)
	}

	full := make([]byte, 512)
	for i := range full {
		full[i] = 0xaa
	}
	if _, err := a.WriteAt(0, full); err != nil {
		t.Fatalf("priming write: %v", err)
	}

	if _, err := a.WriteAt(100, []byte{1, 2, 3}); err != nil {
		t.Fatalf("partial write: %v", err)
	}

	got := make([]byte, 512)
	if _, err := a.ReadAt(0, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	for i, b := range got {
		if i >= 100 && i < 103 {
			continue
		}
		if b != 0xaa {
			t.Fatalf("byte %d clobbered by partial write: got %d", i, b)
		}
	}
	if got[100] != 1 || got[101] != 2 || got[102] != 3 {
		t.Fatalf("partial write did not land: %v", got[100:103])
	}
}
