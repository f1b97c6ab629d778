package devio

import "fmt"

// maxScratchBlockSize bounds the adapter's stack-sized scratch buffer used
// for partial-block read-modify-write, per spec.md's BlockSizeLog2<=10
// assertion (1KiB).
const maxScratchBlockSize = 1 << 10

// ByteAdapter turns a BlockDevice into a byte-addressable Device by doing
// read-modify-write for any access that does not land on a whole block.
// On a per-block failure it stops and returns the count of bytes already
// transferred, wrapped with ErrShortIO so callers that care can tell a
// real device error apart from a logical EOF (spec.md section 4.1, 7).
type ByteAdapter struct {
	Dev BlockDevice
}

func NewByteAdapter(dev BlockDevice) (*ByteAdapter, error) {
	if dev.BlockSizeLog2() > 10 {
		return nil, fmt.Errorf("%w: block size log2 %d", ErrBlockTooLarge, dev.BlockSizeLog2())
	}
	return &ByteAdapter{Dev: dev}, nil
}

func (a *ByteAdapter) blockSize() int { return 1 << a.Dev.BlockSizeLog2() }

func (a *ByteAdapter) ReadAt(offset int, buf []byte) (int, error) {
	it := BlockIter{Begin: offset, End: offset + len(buf), BlockSizeLog2: a.Dev.BlockSizeLog2()}
	transferred := 0
	for _, r := range it.Ranges() {
		dst := buf[transferred : transferred+r.Len()]
		if r.Full(a.blockSize()) {
			if err := a.Dev.ReadBlockAt(r.Block, dst); err != nil {
				return transferred, fmt.Errorf("%w: block %d: %v", ErrShortIO, r.Block, err)
			}
		} else {
			scratch := make([]byte, a.blockSize())
			if err := a.Dev.ReadBlockAt(r.Block, scratch); err != nil {
				return transferred, fmt.Errorf("%w: block %d: %v", ErrShortIO, r.Block, err)
			}
			copy(dst, scratch[r.Begin:r.End])
		}
		transferred += r.Len()
	}
	return transferred, nil
}

func (a *ByteAdapter) WriteAt(offset int, buf []byte) (int, error) {
	it := BlockIter{Begin: offset, End: offset + len(buf), BlockSizeLog2: a.Dev.BlockSizeLog2()}
	transferred := 0
	for _, r := range it.Ranges() {
		src := buf[transferred : transferred+r.Len()]
		if r.Full(a.blockSize()) {
			if err := a.Dev.WriteBlockAt(r.Block, src); err != nil {
				return transferred, fmt.Errorf("%w: block %d: %v", ErrShortIO, r.Block, err)
			}
		} else {
			scratch := make([]byte, a.blockSize())
			if err := a.Dev.ReadBlockAt(r.Block, scratch); err != nil {
				return transferred, fmt.Errorf("%w: block %d: %v", ErrShortIO, r.Block, err)
			}
			copy(scratch[r.Begin:r.End], src)
			if err := a.Dev.WriteBlockAt(r.Block, scratch); err != nil {
				return transferred, fmt.Errorf("%w: block %d: %v", ErrShortIO, r.Block, err)
			}
		}
		transferred += r.Len()
	}
	return transferred, nil
}

func (a *ByteAdapter) Sync() error {
	return a.Dev.Sync()
}

var _ Device = (*ByteAdapter)(nil)
