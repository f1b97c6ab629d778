// Package devfs implements an in-memory device filesystem: a directory
// tree, read-only from the VFS surface, whose leaves are device inodes
// registered out of band via Add/AddDir rather than through Create.
package devfs

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/deathwish5/vfscore/vfs"
)

var inodeIDCounter atomic.Uint64

func newInodeID() int {
	return int(inodeIDCounter.Add(1))
}

// DevFS is the device filesystem. Unlike SFS's inode cache, this tree has
// no eviction: every node is reachable for as long as the filesystem is,
// so a plain pointer is enough for both the parent and owning-filesystem
// back-references - Go's garbage collector reclaims the resulting cycles
// natively, unlike the reference implementation's Arc/Weak split, which
// exists only to keep Rust's reference counting from leaking on a cycle.
type DevFS struct {
	root *Dir
}

var _ vfs.FileSystem = (*DevFS)(nil)

// New creates an empty device filesystem with just a root directory.
func New() *DevFS {
	fs := &DevFS{}
	fs.root = &Dir{fs: fs, children: make(map[string]vfs.INode), id: newInodeID()}
	return fs
}

func (fs *DevFS) Sync() error           { return nil }
func (fs *DevFS) RootINode() vfs.INode  { return fs.root }
func (fs *DevFS) Root() *Dir            { return fs.root }
func (fs *DevFS) Info() vfs.FsInfo      { return vfs.FsInfo{} }

// Dir is a DevFS directory node: a name -> INode map plus a parent
// back-reference used to resolve "..". Mutated only through AddDir/Add/
// Remove, never through the vfs.INode directory methods (Create/Link/
// Unlink/Move all return vfs.ErrNotSupported).
type Dir struct {
	fs     *DevFS
	parent *Dir

	mu       sync.RWMutex
	children map[string]vfs.INode
	id       int
}

var _ vfs.INode = (*Dir)(nil)

// AddDir creates and inserts a new subdirectory named name.
func (d *Dir) AddDir(name string) (*Dir, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; exists {
		return nil, vfs.ErrEntryExist
	}
	child := &Dir{fs: d.fs, parent: d, children: make(map[string]vfs.INode), id: newInodeID()}
	d.children[name] = child
	return child, nil
}

// Add inserts an existing INode (typically a device leaf) under name.
func (d *Dir) Add(name string, dev vfs.INode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; exists {
		return vfs.ErrEntryExist
	}
	d.children[name] = dev
	return nil
}

// Remove deletes the child named name.
func (d *Dir) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; !exists {
		return vfs.ErrEntryNotFound
	}
	delete(d.children, name)
	return nil
}

func (d *Dir) sortedNames() []string {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- vfs.INode ---

func (d *Dir) ReadAt(int, []byte) (int, error)  { return 0, vfs.ErrIsDir }
func (d *Dir) WriteAt(int, []byte) (int, error) { return 0, vfs.ErrIsDir }
func (d *Dir) Poll() (vfs.PollStatus, error)    { return vfs.PollStatus{}, vfs.ErrIsDir }
func (d *Dir) Resize(int) error                 { return vfs.ErrIsDir }

func (d *Dir) Metadata() (vfs.Metadata, error) {
	d.mu.RLock()
	size := len(d.children)
	d.mu.RUnlock()
	return vfs.Metadata{
		Inode:  d.id,
		Size:   size,
		Type:   vfs.Dir,
		Mode:   0o755,
		NLinks: 2,
	}, nil
}

func (d *Dir) SetMetadata(vfs.Metadata) error { return vfs.ErrNotSupported }
func (d *Dir) SyncAll() error                 { return nil }
func (d *Dir) SyncData() error                { return nil }

func (d *Dir) Create(string, vfs.FileType, uint32) (vfs.INode, error) {
	return nil, vfs.ErrNotSupported
}
func (d *Dir) Link(string, vfs.INode) error                { return vfs.ErrNotSupported }
func (d *Dir) Unlink(string) error                          { return vfs.ErrNotSupported }
func (d *Dir) Move(string, vfs.INode, string) error         { return vfs.ErrNotSupported }

func (d *Dir) Find(name string) (vfs.INode, error) {
	switch name {
	case "", ".":
		return d, nil
	case "..":
		if d.parent == nil {
			return d, nil
		}
		return d.parent, nil
	default:
		d.mu.RLock()
		defer d.mu.RUnlock()
		child, ok := d.children[name]
		if !ok {
			return nil, vfs.ErrEntryNotFound
		}
		return child, nil
	}
}

func (d *Dir) GetEntry(index int) (string, error) {
	switch index {
	case 0:
		return ".", nil
	case 1:
		return "..", nil
	default:
		d.mu.RLock()
		defer d.mu.RUnlock()
		names := d.sortedNames()
		i := index - 2
		if i < 0 || i >= len(names) {
			return "", vfs.ErrEntryNotFound
		}
		return names[i], nil
	}
}

func (d *Dir) GetEntryWithMetadata(index int) (vfs.Metadata, string, error) {
	name, err := d.GetEntry(index)
	if err != nil {
		return vfs.Metadata{}, "", err
	}
	child, err := d.Find(name)
	if err != nil {
		return vfs.Metadata{}, "", err
	}
	m, err := child.Metadata()
	return m, name, err
}

func (d *Dir) IoControl(uint32, int) (int, error) { return 0, vfs.ErrNotSupported }
func (d *Dir) MMap(vfs.MMapArea) error            { return vfs.ErrNotSupported }
func (d *Dir) FS() vfs.FileSystem                 { return d.fs }
