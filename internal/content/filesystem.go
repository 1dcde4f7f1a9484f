package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"fstore-go/internal/fstore"
)

// FileSystemStore keeps blobs under a sharded directory tree:
//
//	<root>/
//	  <id[0:2]>/
//	    <id[2:4]>/
//	      <id>     (blob content, no extension)
type FileSystemStore struct {
	root  string
	codec *Codec
}

// NewFileSystemStore creates the root directory if needed. codec may be nil.
func NewFileSystemStore(root string, codec *Codec) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{root: root, codec: codec}, nil
}

// Root is the directory the quota guard walks.
func (s *FileSystemStore) Root() string { return s.root }

// Store writes r under id through a temp file and rename, hashing and
// counting the plaintext in the same pass.
func (s *FileSystemStore) Store(ctx context.Context, id string, r io.Reader, declaredName string) (fstore.StorageOutcome, error) {
	if err := ctx.Err(); err != nil {
		return fstore.StorageOutcome{}, err
	}

	destPath, err := fstore.StorageLocation(s.root, id)
	if err != nil {
		return fstore.StorageOutcome{}, err
	}
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to create shard directory: %w", err)
	}

	sample, body, err := PeekSample(r)
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to read sample: %w", err)
	}
	contentType := s.DetectType(sample, declaredName)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w, err := s.codec.Encode(tmpFile)
	if err != nil {
		tmpFile.Close()
		return fstore.StorageOutcome{}, err
	}

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(w, h), body)
	if err != nil {
		tmpFile.Close()
		return fstore.StorageOutcome{}, fmt.Errorf("failed to write data: %w", err)
	}
	if err := w.Close(); err != nil {
		tmpFile.Close()
		return fstore.StorageOutcome{}, fmt.Errorf("failed to flush encoded data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	return fstore.StorageOutcome{
		Digest:      hex.EncodeToString(h.Sum(nil)),
		Size:        written,
		ContentType: contentType,
	}, nil
}

// Retrieve opens the blob stored under id.
func (s *FileSystemStore) Retrieve(_ context.Context, id string) (io.ReadCloser, error) {
	srcPath, err := fstore.StorageLocation(s.root, id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fstore.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	plain, err := s.codec.Decode(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: plain, closers: []io.Closer{plain, f}}, nil
}

// Remove deletes the blob under id. Shard directories are left in place
// since concurrent stores may be writing into them.
func (s *FileSystemStore) Remove(_ context.Context, id string) (bool, error) {
	path, err := fstore.StorageLocation(s.root, id)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove blob: %w", err)
	}
	return true, nil
}

// Exists reports whether a blob is stored under id.
func (s *FileSystemStore) Exists(_ context.Context, id string) (bool, error) {
	path, err := fstore.StorageLocation(s.root, id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

func (s *FileSystemStore) DetectType(sample []byte, declaredName string) string {
	return DetectType(sample, declaredName)
}

// stackedReadCloser closes every layer of a decoded stream in order.
type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ fstore.ContentStore = (*FileSystemStore)(nil)
