package mountfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deathwish5/vfscore/devio"
	"github.com/deathwish5/vfscore/devio/memdevice"
	"github.com/deathwish5/vfscore/sfs"
	"github.com/deathwish5/vfscore/vfs"
)

func newBackingSFS(t *testing.T, nBlocks int) *sfs.FileSystem {
	t.Helper()
	// 1KiB device blocks, the largest devio.ByteAdapter accepts.
	mem := memdevice.New(nBlocks*sfs.BLKSIZE>>10, 10)
	dev, err := devio.NewByteAdapter(mem)
	require.NoError(t, err)
	fs, err := sfs.Create(dev, nBlocks*sfs.BLKSIZE, devio.SystemClock{}, nil)
	require.NoError(t, err)
	return fs
}

func TestFindCrossesMountBoundaryAndBack(t *testing.T) {
	outer := New(newBackingSFS(t, 256))
	root := outer.RootMNode()

	mountDir, err := root.Create("mnt", vfs.Dir, 0o755)
	require.NoError(t, err)
	mountMNode := mountDir.(*MNode)

	inner := newBackingSFS(t, 256)
	childFS, err := mountMNode.Mount(inner)
	require.NoError(t, err)

	childRoot := childFS.RootMNode()
	_, err = childRoot.Create("nested.txt", vfs.File, 0o644)
	require.NoError(t, err)

	found, err := root.FindMNode("mnt")
	require.NoError(t, err)
	require.Same(t, childFS, found.Vfs)

	nested, err := found.FindMNode("nested.txt")
	require.NoError(t, err)
	require.Same(t, childFS, nested.Vfs)

	back, err := found.FindMNode("..")
	require.NoError(t, err)
	require.Same(t, outer, back.Vfs)
}

func TestUnlinkMountpointRefused(t *testing.T) {
	outer := New(newBackingSFS(t, 256))
	root := outer.RootMNode()

	mountDir, err := root.Create("mnt", vfs.Dir, 0o755)
	require.NoError(t, err)

	_, err = mountDir.(*MNode).Mount(newBackingSFS(t, 256))
	require.NoError(t, err)

	err = root.Unlink("mnt")
	require.ErrorIs(t, err, vfs.ErrBusy)
}

func TestLinkRejectsCrossFilesystemOperand(t *testing.T) {
	a := New(newBackingSFS(t, 256))
	b := New(newBackingSFS(t, 256))

	fileInB, err := b.RootMNode().Create("x.txt", vfs.File, 0o644)
	require.NoError(t, err)

	err = a.RootMNode().Link("x.txt", fileInB)
	require.ErrorIs(t, err, vfs.ErrNotSameFs)
}

func TestMoveRejectsCrossFilesystemOperand(t *testing.T) {
	a := New(newBackingSFS(t, 256))
	b := New(newBackingSFS(t, 256))

	_, err := a.RootMNode().Create("src.txt", vfs.File, 0o644)
	require.NoError(t, err)

	err = a.RootMNode().Move("src.txt", b.RootMNode(), "dst.txt")
	require.ErrorIs(t, err, vfs.ErrNotSameFs)
}

func TestSyncFansOutToMountedChildren(t *testing.T) {
	outer := New(newBackingSFS(t, 256))
	root := outer.RootMNode()

	mountDir, err := root.Create("mnt", vfs.Dir, 0o755)
	require.NoError(t, err)
	childFS, err := mountDir.(*MNode).Mount(newBackingSFS(t, 256))
	require.NoError(t, err)

	_, err = childFS.RootMNode().Create("leaf.txt", vfs.File, 0o644)
	require.NoError(t, err)

	require.NoError(t, outer.Sync())
}
