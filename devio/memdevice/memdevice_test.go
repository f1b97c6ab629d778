package memdevice

import "testing"

func TestReadWriteBlockRoundTrip(t *testing.T) {
	d := New(4, 9) // 512 byte blocks
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := d.WriteBlockAt(2, buf); err != nil {
		t.Fatalf("WriteBlockAt: %v", err)
	}
	got := make([]byte, 512)
	if err := d.ReadBlockAt(2, got); err != nil {
		t.Fatalf("ReadBlockAt: %v", err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], buf[i])
		}
	}
}

func TestOutOfRangeBlockErrors(t *testing.T) {
	d := New(2, 9)
	buf := make([]byte, 512)
	if err := d.ReadBlockAt(2, buf); err == nil {
		t.Fatalf("expected error reading block past the end of the device")
	}
	if err := d.WriteBlockAt(-1, buf); err == nil {
		t.Fatalf("expected error writing a negative block id")
	}
}

func TestSyncCountsCalls(t *testing.T) {
	d := New(1, 9)
	if d.SyncCount() != 0 {
		t.Fatalf("fresh device should report zero syncs")
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if d.SyncCount() != 2 {
		t.Fatalf("got SyncCount()=%d, want 2", d.SyncCount())
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	d := New(1, 9)
	buf := make([]byte, 512)
	buf[0] = 0xff
	if err := d.WriteBlockAt(0, buf); err != nil {
		t.Fatalf("WriteBlockAt: %v", err)
	}
	snap := d.Snapshot()
	snap[0] = 0x00
	got := make([]byte, 512)
	if err := d.ReadBlockAt(0, got); err != nil {
		t.Fatalf("ReadBlockAt: %v", err)
	}
	if got[0] != 0xff {
		t.Fatalf("mutating the snapshot should not affect the device's backing data")
	}
}
