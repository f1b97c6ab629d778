package sfs

import (
	"fmt"
	"sync"

	"github.com/deathwish5/vfscore/devio"
	"github.com/deathwish5/vfscore/vfs"
)

// inode is the in-memory representation of an SFS inode: an id (which
// doubles as the block id it lives at), its on-disk contents guarded by
// their own reader-writer lock, and a back-reference to the owning
// filesystem. The inode lock is not a leaf: growRaw and shrinkRaw call
// allocBlock/freeBlock while holding it, so the filesystem's freemap and
// superblock locks are taken inside it. No code takes an inode lock while
// holding either of those.
type inode struct {
	id int
	mu sync.RWMutex
	disk devio.Dirty[DiskINode]
	fs   *FileSystem
}

var _ vfs.INode = (*inode)(nil)

func (n *inode) diskSnapshot() DiskINode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.disk.Get()
}

// --- block mapping (spec.md section 4.3.2) ---

func (n *inode) getDiskBlockID(fileBlockID int) (int, error) {
	n.mu.RLock()
	d := n.disk.Get()
	n.mu.RUnlock()

	switch {
	case fileBlockID >= int(d.Blocks):
		return 0, vfs.ErrInvalidParam
	case fileBlockID < maxNBlockDirect:
		return int(d.Direct[fileBlockID]), nil
	case fileBlockID < maxNBlockIndirect:
		v, err := n.fs.readU32(int(d.Indirect), entrySize*(fileBlockID-ndirect))
		return int(v), err
	case fileBlockID < maxNBlockDoubleIndirect:
		k := fileBlockID - maxNBlockIndirect
		indirectBlock, err := n.fs.readU32(int(d.DbIndirect), entrySize*(k/blkNEntry))
		if err != nil {
			return 0, err
		}
		v, err := n.fs.readU32(int(indirectBlock), entrySize*(k%blkNEntry))
		return int(v), err
	default:
		return 0, fmt.Errorf("%w: triple-indirect blocks are not supported", vfs.ErrInvalidParam)
	}
}

func (n *inode) setDiskBlockID(fileBlockID, diskBlockID int) error {
	n.mu.RLock()
	blocks := n.disk.Get().Blocks
	n.mu.RUnlock()
	if fileBlockID >= int(blocks) {
		return vfs.ErrInvalidParam
	}
	switch {
	case fileBlockID < maxNBlockDirect:
		n.mu.Lock()
		n.disk.GetMut().Direct[fileBlockID] = uint32(diskBlockID)
		n.mu.Unlock()
		return nil
	case fileBlockID < maxNBlockIndirect:
		n.mu.RLock()
		indirect := n.disk.Get().Indirect
		n.mu.RUnlock()
		return n.fs.writeU32(int(indirect), entrySize*(fileBlockID-ndirect), uint32(diskBlockID))
	case fileBlockID < maxNBlockDoubleIndirect:
		k := fileBlockID - maxNBlockIndirect
		n.mu.RLock()
		dbIndirect := n.disk.Get().DbIndirect
		n.mu.RUnlock()
		indirectBlock, err := n.fs.readU32(int(dbIndirect), entrySize*(k/blkNEntry))
		if err != nil {
			return err
		}
		return n.fs.writeU32(int(indirectBlock), entrySize*(k%blkNEntry), uint32(diskBlockID))
	default:
		return fmt.Errorf("%w: triple-indirect blocks are not supported", vfs.ErrInvalidParam)
	}
}

// --- byte I/O (spec.md section 4.3.4) ---

func (n *inode) readRaw(offset int, buf []byte) (int, error) {
	n.mu.RLock()
	size := int(n.disk.Get().Size)
	n.mu.RUnlock()

	begin, end := min(size, offset), min(size, offset+len(buf))
	if begin >= end {
		return 0, nil
	}
	it := devio.BlockIter{Begin: begin, End: end, BlockSizeLog2: BLKSIZELog2}
	transferred := 0
	for _, r := range it.Ranges() {
		diskBlock, err := n.getDiskBlockID(r.Block)
		if err != nil {
			return transferred, err
		}
		got, err := n.fs.device.ReadAt(diskBlock*BLKSIZE+r.Begin, buf[transferred:transferred+r.Len()])
		transferred += got
		if err != nil {
			return transferred, err
		}
	}
	return transferred, nil
}

func (n *inode) writeRaw(offset int, buf []byte) (int, error) {
	n.mu.RLock()
	size := int(n.disk.Get().Size)
	n.mu.RUnlock()

	begin, end := min(size, offset), min(size, offset+len(buf))
	if begin >= end {
		return 0, nil
	}
	it := devio.BlockIter{Begin: begin, End: end, BlockSizeLog2: BLKSIZELog2}
	transferred := 0
	for _, r := range it.Ranges() {
		diskBlock, err := n.getDiskBlockID(r.Block)
		if err != nil {
			return transferred, err
		}
		got, err := n.fs.device.WriteAt(diskBlock*BLKSIZE+r.Begin, buf[transferred:transferred+r.Len()])
		transferred += got
		if err != nil {
			return transferred, err
		}
	}
	return transferred, nil
}

func (n *inode) cleanRaw(begin, end int) error {
	n.mu.RLock()
	size := int(n.disk.Get().Size)
	n.mu.RUnlock()
	b, e := min(size, begin), min(size, end)
	if b >= e {
		return nil
	}
	zeros := make([]byte, BLKSIZE)
	it := devio.BlockIter{Begin: b, End: e, BlockSizeLog2: BLKSIZELog2}
	for _, r := range it.Ranges() {
		diskBlock, err := n.getDiskBlockID(r.Block)
		if err != nil {
			return err
		}
		if _, err := n.fs.device.WriteAt(diskBlock*BLKSIZE+r.Begin, zeros[:r.Len()]); err != nil {
			return err
		}
	}
	return nil
}

// --- resize (spec.md section 4.3.3) ---

func (n *inode) resizeRaw(newLen int) error {
	if newLen > maxFileSize {
		return vfs.ErrInvalidParam
	}
	newBlocks := (newLen + BLKSIZE - 1) / BLKSIZE
	if newBlocks > maxNBlockDoubleIndirect {
		return vfs.ErrInvalidParam
	}

	n.mu.Lock()
	oldBlocks := int(n.disk.Get().Blocks)
	n.mu.Unlock()

	switch {
	case newBlocks == oldBlocks:
		n.mu.Lock()
		n.disk.GetMut().Size = uint32(newLen)
		n.mu.Unlock()
		return nil
	case newBlocks > oldBlocks:
		return n.growRaw(oldBlocks, newBlocks, newLen)
	default:
		return n.shrinkRaw(oldBlocks, newBlocks, newLen)
	}
}

// growRaw implements the Greater branch of _resize: indirect/double-indirect
// metadata must exist before data blocks can be addressed through it, so
// metadata is allocated first and data last. If an allocation fails partway
// through, every block this call allocated is freed again, the inode's
// size, block count and indirect pointers are restored, and vfs.ErrNoDeviceSpace
// is returned (spec.md's REDESIGN of the reference's fail-fast expect()).
func (n *inode) growRaw(oldBlocks, newBlocks, newLen int) (err error) {
	var allocated []int
	var prevSize, prevBlocks, prevIndirect, prevDbIndirect uint32
	rollback := func() {
		for _, b := range allocated {
			n.fs.freeBlock(b)
		}
		n.mu.Lock()
		d := n.disk.GetMut()
		d.Size, d.Blocks, d.Indirect, d.DbIndirect = prevSize, prevBlocks, prevIndirect, prevDbIndirect
		n.mu.Unlock()
	}
	defer func() {
		if err != nil {
			rollback()
		}
	}()

	alloc := func() (int, error) {
		id, ok := n.fs.allocBlock()
		if !ok {
			return 0, vfs.ErrNoDeviceSpace
		}
		allocated = append(allocated, id)
		return id, nil
	}

	n.mu.Lock()
	d := n.disk.GetMut()
	prevSize, prevBlocks, prevIndirect, prevDbIndirect = d.Size, d.Blocks, d.Indirect, d.DbIndirect
	d.Blocks = uint32(newBlocks)
	if oldBlocks < maxNBlockDirect && newBlocks >= maxNBlockDirect {
		id, aerr := alloc()
		if aerr != nil {
			n.mu.Unlock()
			return aerr
		}
		d.Indirect = uint32(id)
	}
	needDbIndirect := newBlocks >= maxNBlockIndirect
	var dbIndirect uint32
	if needDbIndirect {
		if d.DbIndirect == 0 {
			id, aerr := alloc()
			if aerr != nil {
				n.mu.Unlock()
				return aerr
			}
			d.DbIndirect = uint32(id)
		}
		dbIndirect = d.DbIndirect
	}
	n.mu.Unlock()

	if needDbIndirect {
		indirectBegin := 0
		if oldBlocks > maxNBlockIndirect {
			indirectBegin = (oldBlocks - maxNBlockIndirect + blkNEntry - 1) / blkNEntry
		}
		indirectEnd := (newBlocks - maxNBlockIndirect + blkNEntry - 1) / blkNEntry
		for i := indirectBegin; i < indirectEnd; i++ {
			id, aerr := alloc()
			if aerr != nil {
				return aerr
			}
			if werr := n.fs.writeU32(int(dbIndirect), entrySize*i, uint32(id)); werr != nil {
				return werr
			}
		}
	}

	// The disk_inode write lock is dropped here (see above) before issuing
	// data-block writes for the newly allocated tail, per spec.md section 5.
	for i := oldBlocks; i < newBlocks; i++ {
		id, aerr := alloc()
		if aerr != nil {
			return aerr
		}
		if serr := n.setDiskBlockID(i, id); serr != nil {
			return serr
		}
	}

	n.mu.Lock()
	oldSize := int(n.disk.Get().Size)
	n.disk.GetMut().Size = uint32(newLen)
	n.mu.Unlock()

	return n.cleanRaw(oldSize, newLen)
}

func (n *inode) shrinkRaw(oldBlocks, newBlocks, newLen int) error {
	for i := newBlocks; i < oldBlocks; i++ {
		diskBlockID, err := n.getDiskBlockID(i)
		if err != nil {
			return err
		}
		n.fs.freeBlock(diskBlockID)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.disk.GetMut()
	if newBlocks < maxNBlockDirect && int(d.Blocks) >= maxNBlockDirect {
		n.fs.freeBlock(int(d.Indirect))
		d.Indirect = 0
	}
	if int(d.Blocks) >= maxNBlockIndirect {
		indirectBegin := 0
		if newBlocks > maxNBlockIndirect {
			indirectBegin = (newBlocks - maxNBlockIndirect + blkNEntry - 1) / blkNEntry
		}
		indirectEnd := (int(d.Blocks) - maxNBlockIndirect + blkNEntry - 1) / blkNEntry
		for i := indirectBegin; i < indirectEnd; i++ {
			v, err := n.fs.readU32(int(d.DbIndirect), entrySize*i)
			if err != nil {
				return err
			}
			n.fs.freeBlock(int(v))
		}
		if newBlocks < maxNBlockIndirect {
			n.fs.freeBlock(int(d.DbIndirect))
			d.DbIndirect = 0
		}
	}
	d.Blocks = uint32(newBlocks)
	d.Size = uint32(newLen)
	return nil
}

// --- directory entries (spec.md section 4.3.5) ---

func (n *inode) readDirentry(index int) (diskEntry, error) {
	buf := make([]byte, direntSize)
	if _, err := n.readRaw(direntSize*index, buf); err != nil {
		return diskEntry{}, err
	}
	return diskEntryFromBytes(buf)
}

func (n *inode) writeDirentry(index int, e diskEntry) error {
	buf, err := e.toBytes()
	if err != nil {
		return err
	}
	_, err = n.writeRaw(direntSize*index, buf)
	return err
}

func (n *inode) appendDirentry(e diskEntry) error {
	n.mu.RLock()
	size := int(n.disk.Get().Size)
	n.mu.RUnlock()
	count := size / direntSize
	if err := n.resizeRaw(size + direntSize); err != nil {
		return err
	}
	return n.writeDirentry(count, e)
}

// removeDirentry swaps the last entry into slot index and shrinks, the
// same unordered compaction spec.md section 3.2 describes.
func (n *inode) removeDirentry(index int) error {
	n.mu.RLock()
	size := int(n.disk.Get().Size)
	n.mu.RUnlock()
	count := size / direntSize
	last, err := n.readDirentry(count - 1)
	if err != nil {
		return err
	}
	if err := n.writeDirentry(index, last); err != nil {
		return err
	}
	return n.resizeRaw(size - direntSize)
}

func (n *inode) initDirentry(parent int) error {
	if err := n.resizeRaw(direntSize * 2); err != nil {
		return err
	}
	if err := n.writeDirentry(0, diskEntry{ID: uint32(n.id), Name: "."}); err != nil {
		return err
	}
	return n.writeDirentry(1, diskEntry{ID: uint32(parent), Name: ".."})
}

func (n *inode) findEntry(name string) (int, int, bool) {
	n.mu.RLock()
	count := int(n.disk.Get().Size) / direntSize
	n.mu.RUnlock()
	for i := 0; i < count; i++ {
		e, err := n.readDirentry(i)
		if err != nil {
			return 0, 0, false
		}
		if e.Name == name {
			return int(e.ID), i, true
		}
	}
	return 0, 0, false
}

func (n *inode) nlinksInc() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disk.GetMut().NLinks++
}

func (n *inode) nlinksDec() {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.disk.GetMut()
	if d.NLinks == 0 {
		panic("sfs: nlinks underflow")
	}
	d.NLinks--
}

// --- vfs.INode ---

func (n *inode) ReadAt(offset int, buf []byte) (int, error) {
	n.mu.RLock()
	t := n.disk.Get().Type
	n.mu.RUnlock()
	switch t {
	case vfs.File, vfs.SymLink:
		return n.readRaw(offset, buf)
	case vfs.CharDevice:
		dev, err := n.fs.deviceINode(n.diskSnapshot().DeviceInodeID)
		if err != nil {
			return 0, err
		}
		return dev.ReadAt(offset, buf)
	default:
		return 0, vfs.ErrNotFile
	}
}

func (n *inode) WriteAt(offset int, buf []byte) (int, error) {
	n.mu.RLock()
	d := n.disk.Get()
	n.mu.RUnlock()
	switch d.Type {
	case vfs.File, vfs.SymLink:
		if offset+len(buf) > int(d.Size) {
			if err := n.resizeRaw(offset + len(buf)); err != nil {
				return 0, err
			}
		}
		return n.writeRaw(offset, buf)
	case vfs.CharDevice:
		dev, err := n.fs.deviceINode(d.DeviceInodeID)
		if err != nil {
			return 0, err
		}
		return dev.WriteAt(offset, buf)
	default:
		return 0, vfs.ErrNotFile
	}
}

func (n *inode) Poll() (vfs.PollStatus, error) {
	n.mu.RLock()
	t := n.disk.Get().Type
	n.mu.RUnlock()
	if t == vfs.Dir {
		return vfs.PollStatus{}, vfs.ErrIsDir
	}
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (n *inode) Resize(newLen int) error {
	n.mu.RLock()
	t := n.disk.Get().Type
	n.mu.RUnlock()
	if t != vfs.File && t != vfs.SymLink {
		return vfs.ErrNotFile
	}
	return n.resizeRaw(newLen)
}

func (n *inode) Metadata() (vfs.Metadata, error) {
	n.mu.RLock()
	d := n.disk.Get()
	n.mu.RUnlock()
	size := int(d.Size)
	if d.Type == vfs.CharDevice || d.Type == vfs.BlockDevice {
		size = 0
	}
	return vfs.Metadata{
		Dev:     0,
		Inode:   n.id,
		Size:    size,
		BlkSize: BLKSIZE,
		Blocks:  int(d.Blocks),
		Atime:   d.Atime,
		Mtime:   d.Mtime,
		Ctime:   d.Ctime,
		Type:    d.Type,
		Mode:    0o777,
		NLinks:  int(d.NLinks),
		Rdev:    int(d.DeviceInodeID),
	}, nil
}

func (n *inode) SetMetadata(m vfs.Metadata) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.disk.GetMut()
	d.Atime, d.Mtime, d.Ctime = m.Atime, m.Mtime, m.Ctime
	return nil
}

func (n *inode) SyncAll() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disk.Dirty() {
		b := n.disk.Get()
		buf := (&b).toBytes()
		if _, err := n.fs.device.WriteAt(n.id*BLKSIZE, buf); err != nil {
			return fmt.Errorf("%w: writing back inode %d: %v", vfs.ErrDeviceError, n.id, err)
		}
		n.disk.Sync()
	}
	return nil
}

func (n *inode) SyncData() error { return n.SyncAll() }

// flush writes n back if dirty and, if its link count has reached zero,
// releases its blocks including the inode block itself and drops n from
// the inode cache, so a later Sync does not finalize it a second time
// (spec.md section 3.4/4.3.6).
func (n *inode) flush() error {
	if err := n.SyncAll(); err != nil {
		return err
	}
	n.mu.RLock()
	nlinks := n.disk.Get().NLinks
	n.mu.RUnlock()
	if nlinks == 0 {
		if err := n.resizeRaw(0); err != nil {
			return err
		}
		n.mu.Lock()
		n.disk.Sync()
		n.mu.Unlock()
		n.fs.inodesMu.Lock()
		delete(n.fs.inodes, n.id)
		n.fs.inodesMu.Unlock()
		n.fs.freeBlock(n.id)
	}
	return nil
}

func (n *inode) Create(name string, t vfs.FileType, mode uint32) (vfs.INode, error) {
	m, err := n.Metadata()
	if err != nil {
		return nil, err
	}
	if m.Type != vfs.Dir {
		return nil, vfs.ErrNotDir
	}
	if m.NLinks == 0 {
		return nil, vfs.ErrDirRemoved
	}
	if len(name) > maxFnameLen {
		return nil, fmt.Errorf("%w: name %q too long", vfs.ErrInvalidParam, name)
	}
	if _, _, ok := n.findEntry(name); ok {
		return nil, vfs.ErrEntryExist
	}

	var child *inode
	switch t {
	case vfs.File:
		child, err = n.fs.newInodeFile()
	case vfs.SymLink:
		child, err = n.fs.newInodeSymlink()
	case vfs.Dir:
		child, err = n.fs.newInodeDir(n.id)
	default:
		return nil, vfs.ErrInvalidParam
	}
	if err != nil {
		return nil, err
	}

	if err := n.appendDirentry(diskEntry{ID: uint32(child.id), Name: name}); err != nil {
		return nil, err
	}
	child.nlinksInc()
	if t == vfs.Dir {
		child.nlinksInc() // for "."
		n.nlinksInc()     // for ".."
	}
	return child, nil
}

func (n *inode) Link(name string, other vfs.INode) error {
	m, err := n.Metadata()
	if err != nil {
		return err
	}
	if m.Type != vfs.Dir {
		return vfs.ErrNotDir
	}
	if m.NLinks == 0 {
		return vfs.ErrDirRemoved
	}
	if _, _, ok := n.findEntry(name); ok {
		return vfs.ErrEntryExist
	}
	child, ok := other.(*inode)
	if !ok || child.fs != n.fs {
		return vfs.ErrNotSameFs
	}
	childMeta, err := child.Metadata()
	if err != nil {
		return err
	}
	if childMeta.Type == vfs.Dir {
		return vfs.ErrIsDir
	}
	if err := n.appendDirentry(diskEntry{ID: uint32(child.id), Name: name}); err != nil {
		return err
	}
	child.nlinksInc()
	return nil
}

func (n *inode) Unlink(name string) error {
	m, err := n.Metadata()
	if err != nil {
		return err
	}
	if m.Type != vfs.Dir {
		return vfs.ErrNotDir
	}
	if m.NLinks == 0 {
		return vfs.ErrDirRemoved
	}
	if name == "." || name == ".." {
		return vfs.ErrIsDir
	}
	inodeID, entryID, ok := n.findEntry(name)
	if !ok {
		return vfs.ErrEntryNotFound
	}
	child, err := n.fs.getInode(inodeID)
	if err != nil {
		return err
	}
	childMeta, err := child.Metadata()
	if err != nil {
		return err
	}
	if childMeta.Type == vfs.Dir && childMeta.Size > 2*direntSize {
		return vfs.ErrDirNotEmpty
	}
	child.nlinksDec()
	if childMeta.Type == vfs.Dir {
		child.nlinksDec() // for "."
		n.nlinksDec()     // for ".."
	}
	return n.removeDirentry(entryID)
}

func (n *inode) Move(oldName string, target vfs.INode, newName string) error {
	m, err := n.Metadata()
	if err != nil {
		return err
	}
	if m.Type != vfs.Dir {
		return vfs.ErrNotDir
	}
	if m.NLinks == 0 {
		return vfs.ErrDirRemoved
	}
	if oldName == "." || oldName == ".." {
		return vfs.ErrIsDir
	}
	dest, ok := target.(*inode)
	if !ok || dest.fs != n.fs {
		return vfs.ErrNotSameFs
	}
	destMeta, err := dest.Metadata()
	if err != nil {
		return err
	}
	if destMeta.Type != vfs.Dir {
		return vfs.ErrNotDir
	}
	if destMeta.NLinks == 0 {
		return vfs.ErrDirRemoved
	}
	if _, id, ok := dest.findEntry(newName); ok {
		if err := dest.removeDirentry(id); err != nil {
			return err
		}
	}
	inodeID, entryID, ok := n.findEntry(oldName)
	if !ok {
		return vfs.ErrEntryNotFound
	}
	if m.Inode == destMeta.Inode {
		return n.writeDirentry(entryID, diskEntry{ID: uint32(inodeID), Name: newName})
	}
	if err := dest.appendDirentry(diskEntry{ID: uint32(inodeID), Name: newName}); err != nil {
		return err
	}
	if err := n.removeDirentry(entryID); err != nil {
		return err
	}
	moved, err := n.fs.getInode(inodeID)
	if err != nil {
		return err
	}
	movedMeta, err := moved.Metadata()
	if err != nil {
		return err
	}
	if movedMeta.Type == vfs.Dir {
		n.nlinksDec()
		dest.nlinksInc()
	}
	return nil
}

func (n *inode) Find(name string) (vfs.INode, error) {
	m, err := n.Metadata()
	if err != nil {
		return nil, err
	}
	if m.Type != vfs.Dir {
		return nil, vfs.ErrNotDir
	}
	inodeID, _, ok := n.findEntry(name)
	if !ok {
		return nil, vfs.ErrEntryNotFound
	}
	return n.fs.getInode(inodeID)
}

func (n *inode) GetEntry(index int) (string, error) {
	n.mu.RLock()
	d := n.disk.Get()
	n.mu.RUnlock()
	if d.Type != vfs.Dir {
		return "", vfs.ErrNotDir
	}
	if index >= int(d.Size)/direntSize {
		return "", vfs.ErrEntryNotFound
	}
	e, err := n.readDirentry(index)
	if err != nil {
		return "", err
	}
	return e.Name, nil
}

func (n *inode) GetEntryWithMetadata(index int) (vfs.Metadata, string, error) {
	name, err := n.GetEntry(index)
	if err != nil {
		return vfs.Metadata{}, "", err
	}
	e, err := n.readDirentry(index)
	if err != nil {
		return vfs.Metadata{}, "", err
	}
	child, err := n.fs.getInode(int(e.ID))
	if err != nil {
		return vfs.Metadata{}, "", err
	}
	m, err := child.Metadata()
	return m, name, err
}

// IoControl forwards to the backing device inode for char devices, per
// SPEC_FULL.md's redesign of the reference's always-return-0 stub.
func (n *inode) IoControl(cmd uint32, data int) (int, error) {
	n.mu.RLock()
	d := n.disk.Get()
	n.mu.RUnlock()
	if d.Type != vfs.CharDevice {
		return 0, vfs.ErrIOCTLError
	}
	dev, err := n.fs.deviceINode(d.DeviceInodeID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vfs.ErrIOCTLError, err)
	}
	return dev.IoControl(cmd, data)
}

func (n *inode) MMap(vfs.MMapArea) error { return vfs.ErrNotSupported }

func (n *inode) FS() vfs.FileSystem { return n.fs }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
