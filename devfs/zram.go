package devfs

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/deathwish5/vfscore/vfs"
)

const defaultZramBlockSize = 4096

// Zram is a supplemental DevFS leaf: an in-memory block device whose
// blocks are stored zstd-compressed and decompressed on demand. It exists
// to exercise a non-trivial backing store through the same device-leaf
// contract Null and Zero satisfy trivially.
type Zram struct {
	id        int
	blockSize int
	numBlocks int

	mu      sync.Mutex
	blocks  [][]byte // compressed; nil entry means never written (all zero)
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ vfs.INode = (*Zram)(nil)

// NewZram creates a compressing block device with capacity sizeBytes,
// rounded up to a whole number of blockSize blocks (0 selects the 4KiB
// default).
func NewZram(sizeBytes, blockSize int) (*Zram, error) {
	if blockSize <= 0 {
		blockSize = defaultZramBlockSize
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	numBlocks := (sizeBytes + blockSize - 1) / blockSize
	return &Zram{
		id:        newInodeID(),
		blockSize: blockSize,
		numBlocks: numBlocks,
		blocks:    make([][]byte, numBlocks),
		encoder:   enc,
		decoder:   dec,
	}, nil
}

func (z *Zram) size() int { return z.blockSize * z.numBlocks }

func (z *Zram) readBlock(block int) ([]byte, error) {
	z.mu.Lock()
	compressed := z.blocks[block]
	z.mu.Unlock()
	if compressed == nil {
		return make([]byte, z.blockSize), nil
	}
	return z.decoder.DecodeAll(compressed, make([]byte, 0, z.blockSize))
}

func (z *Zram) writeBlock(block int, plain []byte) {
	compressed := z.encoder.EncodeAll(plain, nil)
	z.mu.Lock()
	z.blocks[block] = compressed
	z.mu.Unlock()
}

func (z *Zram) ReadAt(offset int, buf []byte) (int, error) {
	size := z.size()
	if offset >= size {
		return 0, nil
	}
	end := offset + len(buf)
	if end > size {
		end = size
	}
	n := 0
	for pos := offset; pos < end; {
		block := pos / z.blockSize
		blockStart := block * z.blockSize
		begin := pos - blockStart
		stop := z.blockSize
		if end-blockStart < stop {
			stop = end - blockStart
		}
		plain, err := z.readBlock(block)
		if err != nil {
			return n, err
		}
		copied := copy(buf[n:], plain[begin:stop])
		n += copied
		pos = blockStart + stop
	}
	return n, nil
}

func (z *Zram) WriteAt(offset int, buf []byte) (int, error) {
	size := z.size()
	if offset >= size {
		return 0, vfs.ErrInvalidParam
	}
	end := offset + len(buf)
	if end > size {
		end = size
	}
	n := 0
	for pos := offset; pos < end; {
		block := pos / z.blockSize
		blockStart := block * z.blockSize
		begin := pos - blockStart
		stop := z.blockSize
		if end-blockStart < stop {
			stop = end - blockStart
		}
		plain, err := z.readBlock(block)
		if err != nil {
			return n, err
		}
		copied := copy(plain[begin:stop], buf[n:])
		z.writeBlock(block, plain)
		n += copied
		pos = blockStart + stop
	}
	return n, nil
}

func (z *Zram) Poll() (vfs.PollStatus, error) {
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (z *Zram) Resize(int) error { return vfs.ErrNotSupported }

func (z *Zram) Metadata() (vfs.Metadata, error) {
	return vfs.Metadata{
		Inode:   z.id,
		Size:    z.size(),
		BlkSize: z.blockSize,
		Blocks:  z.numBlocks,
		Type:    vfs.BlockDevice,
		Mode:    0o660,
		NLinks:  1,
		Rdev:    makeRdev(253, 0),
	}, nil
}

func (z *Zram) SetMetadata(vfs.Metadata) error { return nil }
func (z *Zram) SyncAll() error                 { return nil }
func (z *Zram) SyncData() error                { return nil }

func (z *Zram) Create(string, vfs.FileType, uint32) (vfs.INode, error) {
	return nil, vfs.ErrNotDir
}
func (z *Zram) Link(string, vfs.INode) error        { return vfs.ErrNotDir }
func (z *Zram) Unlink(string) error                 { return vfs.ErrNotDir }
func (z *Zram) Move(string, vfs.INode, string) error { return vfs.ErrNotDir }
func (z *Zram) Find(string) (vfs.INode, error)       { return nil, vfs.ErrNotDir }
func (z *Zram) GetEntry(int) (string, error)         { return "", vfs.ErrNotDir }

func (z *Zram) GetEntryWithMetadata(int) (vfs.Metadata, string, error) {
	return vfs.Metadata{}, "", vfs.ErrNotDir
}

func (z *Zram) IoControl(uint32, int) (int, error) { return 0, vfs.ErrNotSupported }
func (z *Zram) MMap(vfs.MMapArea) error            { return vfs.ErrNotSupported }

func (z *Zram) FS() vfs.FileSystem {
	panic("devfs: Zram has no owning filesystem")
}
