package devfs

import "github.com/deathwish5/vfscore/vfs"

// makeRdev packs a (major, minor) device number pair the way the Linux
// MKDEV macro does, matching the reference implementation's make_rdev.
func makeRdev(major, minor uint32) int {
	return int((major << 8) | (minor & 0xff) | ((minor &^ 0xff) << 12))
}

// Null is the /dev/null device: reads return EOF immediately, writes
// silently discard everything.
type Null struct {
	id int
}

var _ vfs.INode = (*Null)(nil)

func NewNull() *Null { return &Null{id: newInodeID()} }

func (n *Null) ReadAt(int, []byte) (int, error) { return 0, nil }

func (n *Null) WriteAt(_ int, buf []byte) (int, error) { return len(buf), nil }

func (n *Null) Poll() (vfs.PollStatus, error) {
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (n *Null) Resize(int) error { return vfs.ErrNotSupported }

func (n *Null) Metadata() (vfs.Metadata, error) {
	return vfs.Metadata{
		Inode:  n.id,
		Type:   vfs.CharDevice,
		Mode:   0o666,
		NLinks: 1,
		Rdev:   makeRdev(1, 3),
	}, nil
}

func (n *Null) SetMetadata(vfs.Metadata) error { return nil }
func (n *Null) SyncAll() error                 { return nil }
func (n *Null) SyncData() error                { return nil }

func (n *Null) Create(string, vfs.FileType, uint32) (vfs.INode, error) {
	return nil, vfs.ErrNotDir
}
func (n *Null) Link(string, vfs.INode) error        { return vfs.ErrNotDir }
func (n *Null) Unlink(string) error                 { return vfs.ErrNotDir }
func (n *Null) Move(string, vfs.INode, string) error { return vfs.ErrNotDir }
func (n *Null) Find(string) (vfs.INode, error)       { return nil, vfs.ErrNotDir }
func (n *Null) GetEntry(int) (string, error)         { return "", vfs.ErrNotDir }

func (n *Null) GetEntryWithMetadata(int) (vfs.Metadata, string, error) {
	return vfs.Metadata{}, "", vfs.ErrNotDir
}

func (n *Null) IoControl(uint32, int) (int, error) { return 0, vfs.ErrNotSupported }
func (n *Null) MMap(vfs.MMapArea) error            { return vfs.ErrNotSupported }

// FS has no owning filesystem to report: a leaf device is reached only
// through the Dir that holds it, never asked for its FS directly.
func (n *Null) FS() vfs.FileSystem {
	panic("devfs: Null has no owning filesystem")
}
