// Command mksfs formats a backing file as an SFS image and, optionally,
// copies a host directory tree into it.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/deathwish5/vfscore/devio"
	"github.com/deathwish5/vfscore/sfs"
	"github.com/deathwish5/vfscore/vfs"
)

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// fileDevice adapts *os.File's int64-offset ReadAt/WriteAt to the
// devio.Device contract (int offsets), so mksfs needs no build-tag-gated
// platform device backend to format a plain image file.
type fileDevice struct{ f *os.File }

func (d fileDevice) ReadAt(offset int, buf []byte) (int, error) {
	return d.f.ReadAt(buf, int64(offset))
}

func (d fileDevice) WriteAt(offset int, buf []byte) (int, error) {
	return d.f.WriteAt(buf, int64(offset))
}

func (d fileDevice) Sync() error { return d.f.Sync() }

var _ devio.Device = fileDevice{}

func folderSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func copyInto(root vfs.INode, srcFolder string) error {
	return filepath.WalkDir(srcFolder, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(srcFolder, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		parentPath := filepath.Dir(relPath)
		parent := root
		if parentPath != "." {
			parent, err = lookupPath(root, parentPath)
			if err != nil {
				return err
			}
		}
		name := filepath.Base(relPath)

		if entry.IsDir() {
			_, err := parent.Create(name, vfs.Dir, 0o755)
			return err
		}

		node, err := parent.Create(name, vfs.File, 0o644)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		return copyAll(node, in)
	})
}

func lookupPath(root vfs.INode, relPath string) (vfs.INode, error) {
	cur := root
	for _, name := range strings.Split(filepath.ToSlash(relPath), "/") {
		next, err := cur.Find(name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func copyAll(node vfs.INode, r io.Reader) error {
	buf := make([]byte, 64*1024)
	offset := 0
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := node.WriteAt(offset, buf[:n]); werr != nil {
				return werr
			}
			offset += n
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func main() {
	var (
		srcFolder = flag.String("from", "", "host directory to copy into the new image (optional)")
		imageSize = flag.Int64("size", 64*1024*1024, "image size in bytes, used when -from is not given")
		output    = flag.String("out", "sfs.img", "output image path")
	)
	flag.Parse()

	space := *imageSize
	if *srcFolder != "" {
		size, err := folderSize(*srcFolder)
		check(err)
		// Leave headroom for metadata: inodes, indirect blocks, directory
		// entries all cost space beyond raw file bytes.
		space = size + size/4 + int64(4*sfs.BLKSIZE)
	}

	f, err := os.OpenFile(*output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	check(err)
	defer f.Close()
	check(f.Truncate(space))

	fsys, err := sfs.Create(fileDevice{f}, int(space), devio.SystemClock{}, nil)
	check(err)

	if *srcFolder != "" {
		check(copyInto(fsys.RootINode(), *srcFolder))
	}

	check(fsys.Sync())
	fmt.Printf("wrote %s (%d bytes)\n", *output, space)
}
