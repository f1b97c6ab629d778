package sfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deathwish5/vfscore/devio"
	"github.com/deathwish5/vfscore/devio/memdevice"
	"github.com/deathwish5/vfscore/vfs"
)

func newTestFS(t *testing.T, nBlocks int) *FileSystem {
	t.Helper()
	// 1KiB device blocks, the largest ByteAdapter accepts; each SFS block
	// spans four of them.
	mem := memdevice.New(nBlocks*BLKSIZE>>10, 10)
	dev, err := devio.NewByteAdapter(mem)
	require.NoError(t, err)
	fs, err := Create(dev, nBlocks*BLKSIZE, devio.FixedClock{At: vfs.Timespec{Sec: 1700000000}}, nil)
	require.NoError(t, err)
	return fs
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()

	f, err := root.Create("hello.txt", vfs.File, 0o644)
	require.NoError(t, err)

	want := []byte("hello, sfs")
	n, err := f.WriteAt(0, want)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	got := make([]byte, len(want))
	n, err = f.ReadAt(0, got)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.Equal(t, want, got)

	m, err := f.Metadata()
	require.NoError(t, err)
	require.Equal(t, len(want), m.Size)
	require.Equal(t, vfs.File, m.Type)
}

func TestGrowAcrossIndirectBoundary(t *testing.T) {
	fs := newTestFS(t, 4096)
	root := fs.RootINode()

	f, err := root.Create("big.bin", vfs.File, 0o644)
	require.NoError(t, err)

	buf := make([]byte, 60*1024)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := f.WriteAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	m, err := f.Metadata()
	require.NoError(t, err)
	require.Equal(t, 15, m.Blocks)
	require.Equal(t, len(buf), m.Size)

	got := make([]byte, len(buf))
	_, err = f.ReadAt(0, got)
	require.NoError(t, err)
	require.Equal(t, buf, got)
}

func TestGrowAcrossDoubleIndirectBoundary(t *testing.T) {
	fs := newTestFS(t, 8192)
	root := fs.RootINode()

	f, err := root.Create("huge.bin", vfs.File, 0o644)
	require.NoError(t, err)

	// maxNBlockIndirect is the first file-block index that requires a
	// double-indirect page; crossing it exactly at a blkNEntry multiple is
	// where the indirect-page range formula is prone to an off-by-one.
	wantBlocks := maxNBlockIndirect + 5
	buf := make([]byte, wantBlocks*BLKSIZE)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := f.WriteAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	m, err := f.Metadata()
	require.NoError(t, err)
	require.Equal(t, wantBlocks, m.Blocks)
	require.Equal(t, len(buf), m.Size)

	fi, ok := f.(*inode)
	require.True(t, ok)
	d := fi.diskSnapshot()
	require.NotZero(t, d.Indirect)
	require.NotZero(t, d.DbIndirect)

	got := make([]byte, len(buf))
	_, err = f.ReadAt(0, got)
	require.NoError(t, err)
	require.Equal(t, buf, got)

	// A wrong indirect-page range would alias the new data-block pointer
	// write onto block 0 (the superblock), corrupting its magic.
	require.NoError(t, fs.Sync())
	fs.sbMu.RLock()
	sb := fs.sb.Get()
	fs.sbMu.RUnlock()
	require.True(t, sb.Check())

	// Shrinking back below the boundary must release every double-indirect
	// page and the db_indirect block itself, exercising the mirrored
	// shrink-path formula.
	require.NoError(t, f.Resize((maxNBlockIndirect-1)*BLKSIZE))
	m, err = f.Metadata()
	require.NoError(t, err)
	require.Equal(t, maxNBlockIndirect-1, m.Blocks)
	d = fi.diskSnapshot()
	require.Zero(t, d.DbIndirect)
	require.NotZero(t, d.Indirect)
}

func TestUnlinkReclaimsBlocks(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()

	f, err := root.Create("doomed.bin", vfs.File, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(0, make([]byte, 40*1024))
	require.NoError(t, err)

	require.NoError(t, fs.Sync())
	fs.sbMu.RLock()
	freeBefore := fs.sb.Get().UnusedBlocks
	fs.sbMu.RUnlock()

	require.NoError(t, root.Unlink("doomed.bin"))
	require.NoError(t, fs.Sync())

	fs.sbMu.RLock()
	freeAfter := fs.sb.Get().UnusedBlocks
	fs.sbMu.RUnlock()
	require.Greater(t, freeAfter, freeBefore)

	_, err = root.Find("doomed.bin")
	require.ErrorIs(t, err, vfs.ErrEntryNotFound)
}

func TestRenameAcrossDirectories(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()

	dirA, err := root.Create("a", vfs.Dir, 0o755)
	require.NoError(t, err)
	dirB, err := root.Create("b", vfs.Dir, 0o755)
	require.NoError(t, err)

	f, err := dirA.Create("note.txt", vfs.File, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(0, []byte("move me"))
	require.NoError(t, err)

	require.NoError(t, dirA.Move("note.txt", dirB, "note.txt"))

	_, err = dirA.Find("note.txt")
	require.ErrorIs(t, err, vfs.ErrEntryNotFound)

	moved, err := dirB.Find("note.txt")
	require.NoError(t, err)
	got := make([]byte, len("move me"))
	_, err = moved.ReadAt(0, got)
	require.NoError(t, err)
	require.Equal(t, "move me", string(got))
}

func TestDirectoryListingIncludesDotEntries(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()
	_, err := root.Create("child", vfs.Dir, 0o755)
	require.NoError(t, err)

	names := []string{}
	for i := 0; ; i++ {
		name, err := root.GetEntry(i)
		if err == vfs.ErrEntryNotFound {
			break
		}
		require.NoError(t, err)
		names = append(names, name)
	}
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")
	require.Contains(t, names, "child")
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()
	_, err := root.Create("dup", vfs.File, 0o644)
	require.NoError(t, err)
	_, err = root.Create("dup", vfs.File, 0o644)
	require.ErrorIs(t, err, vfs.ErrEntryExist)
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	fs := newTestFS(t, 256)
	root := fs.RootINode()
	dir, err := root.Create("full", vfs.Dir, 0o755)
	require.NoError(t, err)
	_, err = dir.Create("inside.txt", vfs.File, 0o644)
	require.NoError(t, err)

	err = root.Unlink("full")
	require.ErrorIs(t, err, vfs.ErrDirNotEmpty)
}

func TestReopenPreservesData(t *testing.T) {
	mem := memdevice.New(256*BLKSIZE>>10, 10)
	dev, err := devio.NewByteAdapter(mem)
	require.NoError(t, err)

	fs, err := Create(dev, 256*BLKSIZE, devio.SystemClock{}, nil)
	require.NoError(t, err)
	root := fs.RootINode()
	f, err := root.Create("persisted.txt", vfs.File, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(0, []byte("still here"))
	require.NoError(t, err)
	require.NoError(t, fs.Sync())

	reopened, err := Open(dev, devio.SystemClock{}, nil)
	require.NoError(t, err)
	reRoot := reopened.RootINode()
	reF, err := reRoot.Find("persisted.txt")
	require.NoError(t, err)
	got := make([]byte, len("still here"))
	_, err = reF.ReadAt(0, got)
	require.NoError(t, err)
	require.Equal(t, "still here", string(got))
}
