package devio

import (
	"os"
	"strconv"
	"time"

	"github.com/deathwish5/vfscore/vfs"
)

// TimeProvider yields the current time for inode timestamps. Filesystems
// take one as a collaborator rather than calling time.Now() directly, so
// tests can pin the clock and builds can be reproducible.
type TimeProvider interface {
	Now() vfs.Timespec
}

// SystemClock is the default TimeProvider. It honors SOURCE_DATE_EPOCH,
// the same reproducible-build convention the teacher's
// util/timestamp.GetTime follows, so golden on-disk images can be
// regenerated byte-for-byte.
type SystemClock struct{}

func (SystemClock) Now() vfs.Timespec {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if sec, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return vfs.Timespec{Sec: sec}
		}
	}
	now := time.Now().UTC()
	return vfs.Timespec{Sec: now.Unix(), Nsec: int32(now.Nanosecond())}
}

// FixedClock is a TimeProvider that always reports the same instant; used
// in tests that assert on exact on-disk timestamp bytes.
type FixedClock struct {
	At vfs.Timespec
}

func (c FixedClock) Now() vfs.Timespec { return c.At }
