// Package mountfs stacks independent filesystems together: it wraps an
// inner filesystem and lets other filesystems be mounted over any of its
// inodes, rewriting traversal so a lookup transparently crosses into (and
// back out of) a mounted child.
package mountfs

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deathwish5/vfscore/vfs"
)

// MountFS is the filesystem on which other filesystems get mounted. It
// owns an inner filesystem, a table of (mountpoint inode id -> child
// MountFS), and - for every MountFS but the root of the whole tree - a
// back-reference to the MNode it is mounted on.
//
// The reference implementation needs a weak self-reference here so a
// &self method can hand out an owned clone of its own Arc without
// double-boxing. Go's pointer/GC model has no such need: every method
// below already holds the concrete *MountFS or *MNode it would have had
// to upgrade, so there is nothing to patch in after construction.
type MountFS struct {
	inner vfs.FileSystem

	mpMu        sync.RWMutex
	mountpoints map[int]*MountFS

	selfMountpoint *MNode
}

var _ vfs.FileSystem = (*MountFS)(nil)

// MNode is the INode implementation MountFS hands out: an inner inode
// plus the MountFS that owns it. Nodes are minted on demand by
// traversal, not cached; identity is (vfs pointer, inner inode id).
type MNode struct {
	Inode vfs.INode
	Vfs   *MountFS
}

var _ vfs.INode = (*MNode)(nil)

// New wraps fs as the root of a mount tree.
func New(fs vfs.FileSystem) *MountFS {
	return &MountFS{inner: fs, mountpoints: make(map[int]*MountFS)}
}

func wrapMNode(inode vfs.INode, owner *MountFS) *MNode {
	return &MNode{Inode: inode, Vfs: owner}
}

// RootMNode returns the strongly-typed root MNode of this MountFS.
func (m *MountFS) RootMNode() *MNode {
	return wrapMNode(m.inner.RootINode(), m)
}

// Mount creates a new MountFS wrapping fs, mounted over n, and installs
// it into n's owning MountFS's mountpoints table keyed by n's inner
// inode id.
func (n *MNode) Mount(fs vfs.FileSystem) (*MountFS, error) {
	meta, err := n.Inode.Metadata()
	if err != nil {
		return nil, err
	}
	child := &MountFS{inner: fs, mountpoints: make(map[int]*MountFS), selfMountpoint: n}

	n.Vfs.mpMu.Lock()
	n.Vfs.mountpoints[meta.Inode] = child
	n.Vfs.mpMu.Unlock()
	return child, nil
}

// overlaidInode returns the mounted filesystem's root MNode if one is
// mounted on n, else n itself.
func (n *MNode) overlaidInode() (*MNode, error) {
	meta, err := n.Inode.Metadata()
	if err != nil {
		return nil, err
	}
	n.Vfs.mpMu.RLock()
	sub, ok := n.Vfs.mountpoints[meta.Inode]
	n.Vfs.mpMu.RUnlock()
	if !ok {
		return n, nil
	}
	return sub.RootMNode(), nil
}

func (n *MNode) isRoot() (bool, error) {
	rootMeta, err := n.Inode.FS().RootINode().Metadata()
	if err != nil {
		return false, err
	}
	meta, err := n.Inode.Metadata()
	if err != nil {
		return false, err
	}
	return rootMeta.Inode == meta.Inode, nil
}

// findAt resolves name from n, crossing mount boundaries as needed. atRoot
// pins traversal at a root barrier (e.g. a chroot): "." and ".." never
// escape it. Plain Go recursion stands in for the reference's boxed async
// recursion - a Go goroutine stack grows on demand, so no explicit
// trampolining is needed to bound depth.
func (n *MNode) findAt(atRoot bool, name string) (*MNode, error) {
	switch name {
	case "", ".":
		return n, nil
	case "..":
		if atRoot {
			return n, nil
		}
		isRoot, err := n.isRoot()
		if err != nil {
			return nil, err
		}
		if isRoot {
			if n.Vfs.selfMountpoint != nil {
				return n.Vfs.selfMountpoint.findAt(atRoot, "..")
			}
			return n, nil
		}
		inner, err := n.Inode.Find("..")
		if err != nil {
			return nil, err
		}
		return wrapMNode(inner, n.Vfs), nil
	default:
		inner, err := n.Inode.Find(name)
		if err != nil {
			return nil, err
		}
		return wrapMNode(inner, n.Vfs).overlaidInode()
	}
}

// FindAtRoot is the public entry point for traversal pinned at a root
// barrier (e.g. a chroot boundary); ordinary lookups use Find.
func (n *MNode) FindAtRoot(name string) (*MNode, error) {
	return n.findAt(true, name)
}

// FindMNode resolves name and returns the strongly-typed MNode, unlike
// Find (the vfs.INode method), which returns the vfs.INode interface.
func (n *MNode) FindMNode(name string) (*MNode, error) {
	return n.findAt(false, name)
}

// FindNameByChild returns the name under which child appears as a direct
// entry of n, if any.
func (n *MNode) FindNameByChild(child *MNode) (string, error) {
	for index := 0; ; index++ {
		name, err := n.Inode.GetEntry(index)
		if err != nil {
			return "", err
		}
		if name == "." || name == ".." {
			continue
		}
		queryback, err := n.FindMNode(name)
		if err != nil {
			return "", err
		}
		queryback, err = queryback.overlaidInode()
		if err != nil {
			return "", err
		}
		childMeta, err := child.Inode.Metadata()
		if err != nil {
			return "", err
		}
		queryMeta, err := queryback.Inode.Metadata()
		if err != nil {
			return "", err
		}
		if queryback.Vfs == child.Vfs && queryMeta.Inode == childMeta.Inode {
			return name, nil
		}
	}
}

// --- vfs.FileSystem ---

// Sync flushes the inner filesystem, then fans out to every mounted
// child concurrently via errgroup, bounding the blast radius of one
// slow child's sync to that child's own goroutine.
func (m *MountFS) Sync() error {
	if err := m.inner.Sync(); err != nil {
		return err
	}
	m.mpMu.RLock()
	children := make([]*MountFS, 0, len(m.mountpoints))
	for _, c := range m.mountpoints {
		children = append(children, c)
	}
	m.mpMu.RUnlock()

	var g errgroup.Group
	for _, c := range children {
		g.Go(c.Sync)
	}
	return g.Wait()
}

func (m *MountFS) RootINode() vfs.INode { return m.RootMNode() }

func (m *MountFS) Info() vfs.FsInfo { return m.inner.Info() }

// --- vfs.INode: unwrap MNode and forward to the inner inode, except for
// Find (which crosses mount boundaries), Unlink (which refuses to remove
// a mountpoint), and Link/Move (which reject cross-filesystem operands).

func (n *MNode) ReadAt(offset int, buf []byte) (int, error)  { return n.Inode.ReadAt(offset, buf) }
func (n *MNode) WriteAt(offset int, buf []byte) (int, error) { return n.Inode.WriteAt(offset, buf) }
func (n *MNode) Poll() (vfs.PollStatus, error)               { return n.Inode.Poll() }
func (n *MNode) Resize(newLen int) error                     { return n.Inode.Resize(newLen) }
func (n *MNode) Metadata() (vfs.Metadata, error)             { return n.Inode.Metadata() }
func (n *MNode) SetMetadata(m vfs.Metadata) error            { return n.Inode.SetMetadata(m) }
func (n *MNode) SyncAll() error                              { return n.Inode.SyncAll() }
func (n *MNode) SyncData() error                             { return n.Inode.SyncData() }
func (n *MNode) IoControl(cmd uint32, data int) (int, error) { return n.Inode.IoControl(cmd, data) }
func (n *MNode) MMap(area vfs.MMapArea) error                { return n.Inode.MMap(area) }
func (n *MNode) GetEntry(index int) (string, error)          { return n.Inode.GetEntry(index) }

func (n *MNode) GetEntryWithMetadata(index int) (vfs.Metadata, string, error) {
	return n.Inode.GetEntryWithMetadata(index)
}

func (n *MNode) FS() vfs.FileSystem { return n.Vfs }

func (n *MNode) Create(name string, t vfs.FileType, mode uint32) (vfs.INode, error) {
	inner, err := n.Inode.Create(name, t, mode)
	if err != nil {
		return nil, err
	}
	return wrapMNode(inner, n.Vfs), nil
}

func (n *MNode) Link(name string, other vfs.INode) error {
	otherM, ok := other.(*MNode)
	if !ok || otherM.Vfs != n.Vfs {
		return vfs.ErrNotSameFs
	}
	return n.Inode.Link(name, otherM.Inode)
}

func (n *MNode) Unlink(name string) error {
	target, err := n.Inode.Find(name)
	if err != nil {
		return err
	}
	meta, err := target.Metadata()
	if err != nil {
		return err
	}
	n.Vfs.mpMu.RLock()
	_, mounted := n.Vfs.mountpoints[meta.Inode]
	n.Vfs.mpMu.RUnlock()
	if mounted {
		return vfs.ErrBusy
	}
	return n.Inode.Unlink(name)
}

func (n *MNode) Move(oldName string, target vfs.INode, newName string) error {
	targetM, ok := target.(*MNode)
	if !ok || targetM.Vfs != n.Vfs {
		return vfs.ErrNotSameFs
	}
	return n.Inode.Move(oldName, targetM.Inode, newName)
}

// Find implements vfs.INode by delegating to findAt(false, name),
// crossing mount boundaries transparently.
func (n *MNode) Find(name string) (vfs.INode, error) {
	return n.findAt(false, name)
}
