package devfs

import "github.com/deathwish5/vfscore/vfs"

// Zero is the /dev/zero device: reads fill the caller's buffer with zero
// bytes, writes discard everything. The natural sibling of Null.
type Zero struct {
	id int
}

var _ vfs.INode = (*Zero)(nil)

func NewZero() *Zero { return &Zero{id: newInodeID()} }

func (z *Zero) ReadAt(_ int, buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (z *Zero) WriteAt(_ int, buf []byte) (int, error) { return len(buf), nil }

func (z *Zero) Poll() (vfs.PollStatus, error) {
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (z *Zero) Resize(int) error { return vfs.ErrNotSupported }

func (z *Zero) Metadata() (vfs.Metadata, error) {
	return vfs.Metadata{
		Inode:  z.id,
		Type:   vfs.CharDevice,
		Mode:   0o666,
		NLinks: 1,
		Rdev:   makeRdev(1, 5),
	}, nil
}

func (z *Zero) SetMetadata(vfs.Metadata) error { return nil }
func (z *Zero) SyncAll() error                 { return nil }
func (z *Zero) SyncData() error                { return nil }

func (z *Zero) Create(string, vfs.FileType, uint32) (vfs.INode, error) {
	return nil, vfs.ErrNotDir
}
func (z *Zero) Link(string, vfs.INode) error        { return vfs.ErrNotDir }
func (z *Zero) Unlink(string) error                 { return vfs.ErrNotDir }
func (z *Zero) Move(string, vfs.INode, string) error { return vfs.ErrNotDir }
func (z *Zero) Find(string) (vfs.INode, error)       { return nil, vfs.ErrNotDir }
func (z *Zero) GetEntry(int) (string, error)         { return "", vfs.ErrNotDir }

func (z *Zero) GetEntryWithMetadata(int) (vfs.Metadata, string, error) {
	return vfs.Metadata{}, "", vfs.ErrNotDir
}

func (z *Zero) IoControl(uint32, int) (int, error) { return 0, vfs.ErrNotSupported }
func (z *Zero) MMap(vfs.MMapArea) error            { return vfs.ErrNotSupported }

func (z *Zero) FS() vfs.FileSystem {
	panic("devfs: Zero has no owning filesystem")
}
