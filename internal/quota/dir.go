package quota

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DirUsage sums the sizes of regular files below Root. Directories,
// including empty shard directories, count for nothing. A missing root
// is zero usage.
type DirUsage struct {
	Root string
}

func (d DirUsage) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
