package fstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// UploadSource is upload content that can be read more than once.
// Admission reads it twice: a digest pre-pass, then the storage pass.
type UploadSource interface {
	// Open returns a fresh reader positioned at the first byte.
	Open() (io.ReadCloser, error)
	// Size is the declared content length in bytes.
	Size() int64
}

// BytesSource serves content held in memory.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b BytesSource) Size() int64 { return int64(len(b)) }

// FileSource serves a regular file on the local filesystem. Each Open
// reopens the path.
type FileSource struct {
	path string
	size int64
}

// NewFileSource stats path and records its size.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("upload source is not a regular file: %s", path)
	}
	return &FileSource{path: path, size: info.Size()}, nil
}

func (f *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *FileSource) Size() int64 { return f.size }
