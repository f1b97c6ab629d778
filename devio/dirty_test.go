package devio

import "testing"

func TestDirtyTracksMutation(t *testing.T) {
	d := NewClean(5)
	if d.Dirty() {
		t.Fatal("freshly cleaned value should not be dirty")
	}
	if got := d.Get(); got != 5 {
		t.Fatalf("Get() = %d, want 5", got)
	}

	*d.GetMut() = 7
	if !d.Dirty() {
		t.Fatal("GetMut should mark dirty")
	}
	if got := d.Get(); got != 7 {
		t.Fatalf("Get() after GetMut = %d, want 7", got)
	}

	d.Sync()
	if d.Dirty() {
		t.Fatal("Sync should clear dirty flag")
	}
}

func TestNewDirtyStartsDirty(t *testing.T) {
	d := NewDirty("x")
	if !d.Dirty() {
		t.Fatal("NewDirty should start dirty")
	}
}

func TestSetMarksDirty(t *testing.T) {
	d := NewClean(1)
	d.Set(2)
	if !d.Dirty() || d.Get() != 2 {
		t.Fatalf("Set should replace value and mark dirty, got %d dirty=%v", d.Get(), d.Dirty())
	}
}
