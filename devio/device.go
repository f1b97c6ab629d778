// Package devio provides the block-device contract this module's
// filesystems read and write through, plus the adapters that turn a
// block-granular device into byte-addressable storage.
package devio

import "errors"

// BlockID identifies a fixed-size block on a Device.
type BlockID = int

// Device is the byte-addressable storage contract SFS reads and writes
// through. Implementations must be safe for concurrent use: distinct
// offset ranges may be read or written concurrently, but the device is
// expected to serialize overlapping access itself.
type Device interface {
	ReadAt(offset int, buf []byte) (int, error)
	WriteAt(offset int, buf []byte) (int, error)
	Sync() error
}

// BlockDevice is a device that can only be read or written in whole
// blocks of size 1<<BlockSizeLog2. ByteAdapter turns one of these into a
// Device by handling partial-block reads and writes.
type BlockDevice interface {
	BlockSizeLog2() uint
	ReadBlockAt(id BlockID, buf []byte) error
	WriteBlockAt(id BlockID, buf []byte) error
	Sync() error
}

// ErrShortIO is wrapped around the last per-block error encountered by
// ByteAdapter when a read or write could not complete the full requested
// range. It lets a caller distinguish "stopped because of a real device
// error" from "stopped because we hit the logical end of the file",
// something spec.md's reference behavior (short byte count, no error)
// left ambiguous.
var ErrShortIO = errors.New("devio: short I/O")

// ErrBlockTooLarge is returned by ByteAdapter when asked to honor a block
// size larger than its internal scratch buffer can hold.
var ErrBlockTooLarge = errors.New("devio: block size exceeds adapter scratch buffer")
