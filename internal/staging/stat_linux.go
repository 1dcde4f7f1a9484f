//go:build linux

package staging

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

// statData holds the platform-specific metadata compared before and after
// a file is spooled.
type statData struct {
	UID   int64
	GID   int64
	Ctime time.Time
}

// extractStatData returns an error if info.Sys() is not *syscall.Stat_t.
func extractStatData(info fs.FileInfo) (*statData, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}
	return &statData{
		UID:   int64(stat.Uid),
		GID:   int64(stat.Gid),
		Ctime: time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec)),
	}, nil
}

// validateStatUnchanged ignores access time since our own read may change it.
func validateStatUnchanged(info1, info2 fs.FileInfo, stat1, stat2 *statData) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed: %d -> %d", info1.Size(), info2.Size())
	}
	if info1.Mode() != info2.Mode() {
		return fmt.Errorf("mode changed: %v -> %v", info1.Mode(), info2.Mode())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	if !stat1.Ctime.Equal(stat2.Ctime) {
		return fmt.Errorf("ctime changed: %v -> %v", stat1.Ctime, stat2.Ctime)
	}
	if stat1.UID != stat2.UID || stat1.GID != stat2.GID {
		return fmt.Errorf("owner changed: %d:%d -> %d:%d", stat1.UID, stat1.GID, stat2.UID, stat2.GID)
	}
	return nil
}
