//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build aix darwin dragonfly freebsd linux netbsd openbsd solaris

// Package blockdev adapts a file descriptor on a real backing file (or
// block device) into a devio.BlockDevice, using golang.org/x/sys/unix for
// pread/pwrite/fsync the same way the teacher's disk package reaches for
// unix for low-level file operations.
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is a devio.BlockDevice backed by an *os.File via unix syscalls.
type Device struct {
	file          *os.File
	blockSizeLog2 uint
}

// Open opens path for read-write access as a block device of the given
// block size, creating the file if it does not exist. If size > 0, the
// file is then truncated or extended to exactly size bytes.
func Open(path string, blockSizeLog2 uint, size int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
		}
	}
	return &Device{file: f, blockSizeLog2: blockSizeLog2}, nil
}

func (d *Device) BlockSizeLog2() uint { return d.blockSizeLog2 }

func (d *Device) blockSize() int { return 1 << d.blockSizeLog2 }

func (d *Device) ReadBlockAt(id int, buf []byte) error {
	n, err := unix.Pread(int(d.file.Fd()), buf[:d.blockSize()], int64(id)*int64(d.blockSize()))
	if err != nil {
		return fmt.Errorf("blockdev: pread block %d: %w", id, err)
	}
	if n != d.blockSize() {
		return fmt.Errorf("blockdev: short pread block %d: got %d want %d", id, n, d.blockSize())
	}
	return nil
}

func (d *Device) WriteBlockAt(id int, buf []byte) error {
	n, err := unix.Pwrite(int(d.file.Fd()), buf[:d.blockSize()], int64(id)*int64(d.blockSize()))
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", id, err)
	}
	if n != d.blockSize() {
		return fmt.Errorf("blockdev: short pwrite block %d: got %d want %d", id, n, d.blockSize())
	}
	return nil
}

func (d *Device) Sync() error {
	if err := unix.Fsync(int(d.file.Fd())); err != nil {
		return fmt.Errorf("blockdev: fsync: %w", err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return d.file.Close()
}
