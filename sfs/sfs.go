// Package sfs implements the on-disk Simple File System: a single flat
// block device holding a superblock, a free-block bitmap, and a tree of
// fixed-size inodes where each inode's block id doubles as its inode id.
package sfs

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"weak"

	"github.com/deathwish5/vfscore/devio"
	"github.com/deathwish5/vfscore/vfs"
)

// FileSystem is a mounted instance of the on-disk format. Its three
// pieces of mutable shared state - superblock, freemap, inode cache -
// each carry their own lock. The freemap lock is always taken before the
// superblock lock, and no inode lock is taken while either is held.
type FileSystem struct {
	device devio.Device
	clock  devio.TimeProvider
	logger *log.Logger

	fmMu sync.RWMutex
	fm   *devio.Dirty[*freemap]

	sbMu sync.RWMutex
	sb   *devio.Dirty[SuperBlock]

	inodesMu sync.Mutex
	inodes   map[int]weak.Pointer[inode]

	devInodesMu sync.RWMutex
	devInodes   map[uint32]vfs.INode

	rootID int
}

var _ vfs.FileSystem = (*FileSystem)(nil)

// Create formats a new SFS on device, sized to fit within space bytes,
// and returns it mounted with a fresh empty root directory.
func Create(device devio.Device, space int, clock devio.TimeProvider, logger *log.Logger) (*FileSystem, error) {
	if logger == nil {
		logger = log.Default()
	}
	totalBlocks := space / BLKSIZE
	if totalBlocks < 3 {
		return nil, fmt.Errorf("%w: device too small for a superblock, freemap, and root inode", vfs.ErrInvalidParam)
	}
	freemapBlocks := (totalBlocks + blkBits - 1) / blkBits
	rootID := blknFreemap + int(freemapBlocks)
	if rootID >= totalBlocks {
		return nil, fmt.Errorf("%w: device too small: freemap alone needs %d blocks", vfs.ErrInvalidParam, freemapBlocks)
	}

	sb := newSuperBlock(uint32(totalBlocks), uint32(freemapBlocks))
	fm := newFreemap(totalBlocks)
	// Blocks [0, rootID] are all spoken for: superblock, freemap, root inode.
	for i := 0; i <= rootID; i++ {
		fm.markUsed(i)
	}
	sb.UnusedBlocks = uint32(totalBlocks - (rootID + 1))

	fs := &FileSystem{
		device:    device,
		clock:     clock,
		logger:    logger,
		fm:        devio.NewDirty(fm),
		sb:        devio.NewDirty(sb),
		inodes:    make(map[int]weak.Pointer[inode]),
		devInodes: make(map[uint32]vfs.INode),
		rootID:    rootID,
	}

	root := &inode{id: rootID, fs: fs, disk: *devio.NewDirty(newDirDiskINode())}
	root.disk.GetMut().NLinks = 0
	if err := root.initDirentry(rootID); err != nil {
		return nil, err
	}
	root.nlinksInc() // "."
	root.nlinksInc() // referenced by whoever holds the root

	fs.inodesMu.Lock()
	fs.inodes[rootID] = weak.Make(root)
	fs.inodesMu.Unlock()

	if err := root.SyncAll(); err != nil {
		return nil, err
	}
	if err := fs.Sync(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Open reads an existing SFS image off device.
func Open(device devio.Device, clock devio.TimeProvider, logger *log.Logger) (*FileSystem, error) {
	if logger == nil {
		logger = log.Default()
	}
	buf := make([]byte, BLKSIZE)
	if _, err := device.ReadAt(blknSuper*BLKSIZE, buf); err != nil {
		return nil, fmt.Errorf("%w: reading superblock: %v", vfs.ErrDeviceError, err)
	}
	sb, err := superBlockFromBytes(buf)
	if err != nil {
		return nil, err
	}
	if !sb.Check() {
		return nil, vfs.ErrWrongFs
	}

	fmBuf := make([]byte, int(sb.FreemapBlocks)*BLKSIZE)
	if _, err := device.ReadAt(blknFreemap*BLKSIZE, fmBuf); err != nil {
		return nil, fmt.Errorf("%w: reading freemap: %v", vfs.ErrDeviceError, err)
	}
	fm := freemapFromBytes(fmBuf)

	rootID := blknFreemap + int(sb.FreemapBlocks)

	fs := &FileSystem{
		device:    device,
		clock:     clock,
		logger:    logger,
		fm:        devio.NewClean(fm),
		sb:        devio.NewClean(sb),
		inodes:    make(map[int]weak.Pointer[inode]),
		devInodes: make(map[uint32]vfs.INode),
		rootID:    rootID,
	}
	return fs, nil
}

func (fs *FileSystem) now() vfs.Timespec {
	if fs.clock == nil {
		return vfs.Timespec{}
	}
	return fs.clock.Now()
}

// --- block allocation (spec.md section 4.3.7) ---

func (fs *FileSystem) allocBlock() (int, bool) {
	fs.fmMu.Lock()
	defer fs.fmMu.Unlock()
	fm := *fs.fm.GetMut()
	id := fm.firstFree(0)
	if id < 0 {
		return 0, false
	}
	fm.markUsed(id)

	fs.sbMu.Lock()
	sb := fs.sb.GetMut()
	if sb.UnusedBlocks == 0 {
		fs.sbMu.Unlock()
		panic("sfs: superblock unused_blocks underflowed allocBlock bookkeeping")
	}
	sb.UnusedBlocks--
	fs.sbMu.Unlock()

	return id, true
}

func (fs *FileSystem) freeBlock(id int) {
	fs.fmMu.Lock()
	fm := *fs.fm.GetMut()
	fm.markFree(id)
	fs.fmMu.Unlock()

	fs.sbMu.Lock()
	sb := fs.sb.GetMut()
	sb.UnusedBlocks++
	fs.sbMu.Unlock()
}

// --- raw block-id-addressed word access, used by the indirect/double
// indirect block pointer chains (spec.md section 4.3.2) ---

func (fs *FileSystem) readU32(blockID, offset int) (uint32, error) {
	var buf [4]byte
	n, err := fs.device.ReadAt(blockID*BLKSIZE+offset, buf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", vfs.ErrDeviceError, err)
	}
	if n != 4 {
		return 0, fmt.Errorf("%w: short read of block pointer at block %d offset %d", devio.ErrShortIO, blockID, offset)
	}
	return binary.NativeEndian.Uint32(buf[:]), nil
}

func (fs *FileSystem) writeU32(blockID, offset int, v uint32) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	n, err := fs.device.WriteAt(blockID*BLKSIZE+offset, buf[:])
	if err != nil {
		return fmt.Errorf("%w: %v", vfs.ErrDeviceError, err)
	}
	if n != 4 {
		return fmt.Errorf("%w: short write of block pointer at block %d offset %d", devio.ErrShortIO, blockID, offset)
	}
	return nil
}

// --- inode cache (spec.md section 3.4) ---

// getInode returns the live inode for id, loading it from disk if it is
// not already cached (or if its weak reference has been collected).
func (fs *FileSystem) getInode(id int) (*inode, error) {
	fs.inodesMu.Lock()
	if wp, ok := fs.inodes[id]; ok {
		if n := wp.Value(); n != nil {
			fs.inodesMu.Unlock()
			return n, nil
		}
	}
	fs.inodesMu.Unlock()

	buf := make([]byte, BLKSIZE)
	if _, err := fs.device.ReadAt(id*BLKSIZE, buf); err != nil {
		return nil, fmt.Errorf("%w: loading inode %d: %v", vfs.ErrDeviceError, id, err)
	}
	d, err := diskINodeFromBytes(buf)
	if err != nil {
		return nil, err
	}
	n := &inode{id: id, fs: fs, disk: *devio.NewClean(d)}

	fs.inodesMu.Lock()
	defer fs.inodesMu.Unlock()
	if wp, ok := fs.inodes[id]; ok {
		if existing := wp.Value(); existing != nil {
			return existing, nil
		}
	}
	fs.inodes[id] = weak.Make(n)
	return n, nil
}

func (fs *FileSystem) newInode(d DiskINode) (*inode, error) {
	id, ok := fs.allocBlock()
	if !ok {
		return nil, vfs.ErrNoDeviceSpace
	}
	now := fs.now()
	d.Atime, d.Mtime, d.Ctime = now, now, now
	n := &inode{id: id, fs: fs, disk: *devio.NewDirty(d)}

	fs.inodesMu.Lock()
	fs.inodes[id] = weak.Make(n)
	fs.inodesMu.Unlock()
	return n, nil
}

func (fs *FileSystem) newInodeFile() (*inode, error) {
	return fs.newInode(newFileDiskINode())
}

func (fs *FileSystem) newInodeSymlink() (*inode, error) {
	return fs.newInode(newSymlinkDiskINode())
}

func (fs *FileSystem) newInodeDir(parent int) (*inode, error) {
	n, err := fs.newInode(newDirDiskINode())
	if err != nil {
		return nil, err
	}
	if err := n.initDirentry(parent); err != nil {
		return nil, err
	}
	return n, nil
}

// NewDeviceInode registers node under deviceInodeID so that an SFS char
// device inode referencing that id can forward reads, writes, and ioctls
// to it (spec.md section 9, Open Question 2: io_control forwarding).
// Callers typically hand in a devfs leaf (e.g. a null or zero device).
func (fs *FileSystem) NewDeviceInode(deviceInodeID uint32, node vfs.INode) {
	fs.devInodesMu.Lock()
	defer fs.devInodesMu.Unlock()
	fs.devInodes[deviceInodeID] = node
}

func (fs *FileSystem) deviceINode(id uint32) (vfs.INode, error) {
	fs.devInodesMu.RLock()
	defer fs.devInodesMu.RUnlock()
	n, ok := fs.devInodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: no device registered for inode id %d", vfs.ErrDeviceError, id)
	}
	return n, nil
}

// flushWeakInodes drops cache entries whose weak pointer has already been
// collected, and calls flush() on every entry still live, which finalizes
// (and removes from the cache) any whose link count reached zero. This is
// the Go analog of the reference's
// Weak::upgrade()-and-prune pass in SimpleFileSystem::sync.
func (fs *FileSystem) flushWeakInodes() error {
	fs.inodesMu.Lock()
	live := make([]*inode, 0, len(fs.inodes))
	for id, wp := range fs.inodes {
		if n := wp.Value(); n != nil {
			live = append(live, n)
		} else {
			delete(fs.inodes, id)
		}
	}
	fs.inodesMu.Unlock()

	for _, n := range live {
		if err := n.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Sync writes back the superblock, then the freemap, then flushes and
// syncs every live inode, then asks the underlying device to sync. Lock
// order: freemap then superblock, matching allocBlock/freeBlock, so Sync
// can never deadlock against an in-flight allocation. Write order is the
// opposite of lock order - superblock before freemap - so that a crash
// between the two writes never leaves a block marked in-use in the
// accounting that the freemap on disk claims is free (spec.md section
// 4.3.7: "Writing the superblock before the freemap prevents a crash
// leaving blocks allocated but unreachable from accounting").
func (fs *FileSystem) Sync() error {
	fs.fmMu.Lock()
	fs.sbMu.Lock()

	var sbBytes []byte
	if fs.sb.Dirty() {
		sb := fs.sb.Get()
		sbBytes = (&sb).toBytes()
		fs.sb.Sync()
	}
	var fmBytes []byte
	if fs.fm.Dirty() {
		fmBytes = (*fs.fm.Get()).toBytes()
		fs.fm.Sync()
	}

	fs.sbMu.Unlock()
	fs.fmMu.Unlock()

	if sbBytes != nil {
		if _, err := fs.device.WriteAt(blknSuper*BLKSIZE, sbBytes); err != nil {
			return fmt.Errorf("%w: writing superblock: %v", vfs.ErrDeviceError, err)
		}
	}
	if fmBytes != nil {
		if _, err := fs.device.WriteAt(blknFreemap*BLKSIZE, fmBytes); err != nil {
			return fmt.Errorf("%w: writing freemap: %v", vfs.ErrDeviceError, err)
		}
	}

	if err := fs.flushWeakInodes(); err != nil {
		return err
	}

	fs.inodesMu.Lock()
	live := make([]*inode, 0, len(fs.inodes))
	for _, wp := range fs.inodes {
		if n := wp.Value(); n != nil {
			live = append(live, n)
		}
	}
	fs.inodesMu.Unlock()
	for _, n := range live {
		if err := n.SyncAll(); err != nil {
			return err
		}
	}

	return fs.device.Sync()
}

func (fs *FileSystem) RootINode() vfs.INode {
	n, err := fs.getInode(fs.rootID)
	if err != nil {
		panic(fmt.Sprintf("sfs: root inode %d unreadable: %v", fs.rootID, err))
	}
	return n
}

func (fs *FileSystem) Info() vfs.FsInfo {
	fs.sbMu.RLock()
	sb := fs.sb.Get()
	fs.sbMu.RUnlock()
	return vfs.FsInfo{
		Bsize:   BLKSIZE,
		Frsize:  BLKSIZE,
		Blocks:  int(sb.Blocks),
		Bfree:   int(sb.UnusedBlocks),
		Bavail:  int(sb.UnusedBlocks),
		Files:   int(sb.Blocks - sb.UnusedBlocks),
		Ffree:   int(sb.UnusedBlocks),
		Namemax: maxFnameLen,
	}
}
