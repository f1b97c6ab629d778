// Package memdevice provides an in-memory devio.BlockDevice used in tests,
// modeled on the Rust source's Mutex<[u8;16]> test double in
// rcore-fs/src/dev/mod.rs.
package memdevice

import (
	"fmt"
	"sync"
)

// Device is a fixed-size in-memory block device. It is safe for
// concurrent use.
type Device struct {
	mu            sync.Mutex
	data          []byte
	blockSizeLog2 uint
	syncCount     int
}

// New allocates a Device with nBlocks blocks of size 1<<blockSizeLog2.
func New(nBlocks int, blockSizeLog2 uint) *Device {
	return &Device{
		data:          make([]byte, nBlocks<<blockSizeLog2),
		blockSizeLog2: blockSizeLog2,
	}
}

func (d *Device) BlockSizeLog2() uint { return d.blockSizeLog2 }

func (d *Device) blockSize() int { return 1 << d.blockSizeLog2 }

func (d *Device) ReadBlockAt(id int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	begin := id * d.blockSize()
	if begin < 0 || begin+d.blockSize() > len(d.data) {
		return fmt.Errorf("memdevice: block %d out of range", id)
	}
	copy(buf, d.data[begin:begin+d.blockSize()])
	return nil
}

func (d *Device) WriteBlockAt(id int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	begin := id * d.blockSize()
	if begin < 0 || begin+d.blockSize() > len(d.data) {
		return fmt.Errorf("memdevice: block %d out of range", id)
	}
	copy(d.data[begin:begin+d.blockSize()], buf)
	return nil
}

func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncCount++
	return nil
}

// SyncCount reports how many times Sync has been called, so a test can
// observe device syncs without hooking into sfs.
func (d *Device) SyncCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncCount
}

// Snapshot returns a copy of the raw backing bytes, for golden-file
// comparisons in tests.
func (d *Device) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}
