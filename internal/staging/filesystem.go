package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileSystemStore keeps spooled content as files named by checksum.
//
// Directory structure:
//
//	<staging_dir>/
//	  files/
//	    <checksum>
type fileSystemStore struct {
	filesDir string
}

// NewFileSystemStagingArea creates a staging area under stagingDir.
// maxSize is the maximum total size in bytes; must be positive.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (*Area, error) {
	filesDir := filepath.Join(stagingDir, "files")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return newArea(&fileSystemStore{filesDir: filesDir}, maxSize), nil
}

func (s *fileSystemStore) StoreContent(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.filesDir, ".spool-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating spool file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, err
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	dst := filepath.Join(s.filesDir, checksum)
	if _, err := os.Stat(dst); err == nil {
		return checksum, size, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("finalizing spool file: %w", err)
	}
	return checksum, size, nil
}

func (s *fileSystemStore) RemoveContent(checksum string) {
	os.Remove(filepath.Join(s.filesDir, checksum))
}

func (s *fileSystemStore) OpenContent(checksum string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.filesDir, checksum))
}

func (s *fileSystemStore) ContentSize() (int64, error) {
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
