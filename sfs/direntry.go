package sfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deathwish5/vfscore/vfs"
)

// diskEntry is one fixed-size directory record: a 4-byte inode id followed
// by a 256-byte NUL-terminated name (direntSize bytes total).
type diskEntry struct {
	ID   uint32
	Name string
}

func (e *diskEntry) toBytes() ([]byte, error) {
	if len(e.Name) > maxFnameLen {
		return nil, fmt.Errorf("%w: directory entry name %q longer than %d bytes", vfs.ErrInvalidParam, e.Name, maxFnameLen)
	}
	b := make([]byte, direntSize)
	binary.NativeEndian.PutUint32(b[0:4], e.ID)
	copy(b[4:4+256], e.Name)
	return b, nil
}

func diskEntryFromBytes(b []byte) (diskEntry, error) {
	if len(b) < direntSize {
		return diskEntry{}, fmt.Errorf("sfs: direntry buffer too short: %d bytes", len(b))
	}
	id := binary.NativeEndian.Uint32(b[0:4])
	nameBytes := b[4 : 4+256]
	if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
		nameBytes = nameBytes[:i]
	}
	return diskEntry{ID: id, Name: string(nameBytes)}, nil
}
