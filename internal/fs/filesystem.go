// Package fs discovers local files for bulk import.
package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Candidate is a regular file found under an import root.
type Candidate struct {
	Path         string // absolute path on disk
	RelativePath string // slash-separated, relative to the import root
	Size         int64
}

// FindFiles discovers regular files under root, skipping anything matched
// by configPatterns or by root's .fstoreignore. Symlinks, devices, pipes
// and sockets are never returned. Results are in lexical order.
func FindFiles(root string, recursive bool, configPatterns []string) ([]Candidate, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absRoot)
	}

	fileLines, err := ParseIgnoreFile(filepath.Join(absRoot, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(append([]string(nil), configPatterns...), fileLines...))

	var found []Candidate
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !recursive || matcher.MatchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		found = append(found, Candidate{
			Path:         p,
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return found, nil
}
