//go:build !linux

package staging

import (
	"fmt"
	"io/fs"
)

// statData is empty where ctime and ownership are not compared.
type statData struct{}

func extractStatData(fs.FileInfo) (*statData, error) { return &statData{}, nil }

func validateStatUnchanged(info1, info2 fs.FileInfo, _, _ *statData) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed: %d -> %d", info1.Size(), info2.Size())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	return nil
}
