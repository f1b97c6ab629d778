package sfs

import (
	"encoding/binary"
	"fmt"

	"github.com/deathwish5/vfscore/vfs"
)

const diskINodeSize = 108

// DiskINode is the fixed-size on-disk inode record, padded to BLKSIZE when
// written (it occupies an entire block; the block id doubles as the inode
// id, per spec.md section 3.2).
type DiskINode struct {
	Size          uint32
	Type          vfs.FileType
	NLinks        uint16
	Blocks        uint32
	Atime         vfs.Timespec
	Mtime         vfs.Timespec
	Ctime         vfs.Timespec
	Direct        [ndirect]uint32
	Indirect      uint32
	DbIndirect    uint32
	DeviceInodeID uint32
}

func newFileDiskINode() DiskINode  { return DiskINode{Type: vfs.File} }
func newDirDiskINode() DiskINode   { return DiskINode{Type: vfs.Dir} }
func newSymlinkDiskINode() DiskINode { return DiskINode{Type: vfs.SymLink} }
func newCharDeviceDiskINode(deviceInodeID uint32) DiskINode {
	return DiskINode{Type: vfs.CharDevice, NLinks: 0, DeviceInodeID: deviceInodeID}
}

func (n *DiskINode) toBytes() []byte {
	b := make([]byte, BLKSIZE)
	binary.NativeEndian.PutUint32(b[0:4], n.Size)
	binary.NativeEndian.PutUint16(b[4:6], uint16(n.Type))
	binary.NativeEndian.PutUint16(b[6:8], n.NLinks)
	binary.NativeEndian.PutUint32(b[8:12], n.Blocks)
	binary.NativeEndian.PutUint64(b[12:20], uint64(n.Atime.Sec))
	binary.NativeEndian.PutUint32(b[20:24], uint32(n.Atime.Nsec))
	binary.NativeEndian.PutUint64(b[24:32], uint64(n.Mtime.Sec))
	binary.NativeEndian.PutUint32(b[32:36], uint32(n.Mtime.Nsec))
	binary.NativeEndian.PutUint64(b[36:44], uint64(n.Ctime.Sec))
	binary.NativeEndian.PutUint32(b[44:48], uint32(n.Ctime.Nsec))
	for i, p := range n.Direct {
		base := 48 + i*4
		binary.NativeEndian.PutUint32(b[base:base+4], p)
	}
	binary.NativeEndian.PutUint32(b[96:100], n.Indirect)
	binary.NativeEndian.PutUint32(b[100:104], n.DbIndirect)
	binary.NativeEndian.PutUint32(b[104:108], n.DeviceInodeID)
	return b
}

func diskINodeFromBytes(b []byte) (DiskINode, error) {
	if len(b) < diskINodeSize {
		return DiskINode{}, fmt.Errorf("sfs: inode buffer too short: %d bytes", len(b))
	}
	var n DiskINode
	n.Size = binary.NativeEndian.Uint32(b[0:4])
	n.Type = vfs.FileType(binary.NativeEndian.Uint16(b[4:6]))
	n.NLinks = binary.NativeEndian.Uint16(b[6:8])
	n.Blocks = binary.NativeEndian.Uint32(b[8:12])
	n.Atime = vfs.Timespec{Sec: int64(binary.NativeEndian.Uint64(b[12:20])), Nsec: int32(binary.NativeEndian.Uint32(b[20:24]))}
	n.Mtime = vfs.Timespec{Sec: int64(binary.NativeEndian.Uint64(b[24:32])), Nsec: int32(binary.NativeEndian.Uint32(b[32:36]))}
	n.Ctime = vfs.Timespec{Sec: int64(binary.NativeEndian.Uint64(b[36:44])), Nsec: int32(binary.NativeEndian.Uint32(b[44:48]))}
	for i := range n.Direct {
		base := 48 + i*4
		n.Direct[i] = binary.NativeEndian.Uint32(b[base : base+4])
	}
	n.Indirect = binary.NativeEndian.Uint32(b[96:100])
	n.DbIndirect = binary.NativeEndian.Uint32(b[100:104])
	n.DeviceInodeID = binary.NativeEndian.Uint32(b[104:108])
	return n, nil
}
