package fstore

import (
	"context"
	"io"
)

// ContentStore persists blob bytes under opaque identifiers.
// All operations stream so large files are never held in memory.
type ContentStore interface {
	// Store consumes r exactly once, writing it under id while hashing it.
	// Missing parent locations are created. An existing blob under id is
	// overwritten; uniqueness of id is the caller's responsibility.
	Store(ctx context.Context, id string, r io.Reader, declaredName string) (StorageOutcome, error)

	// Retrieve opens the blob for sequential reading. Absence is reported
	// as ErrContentNotFound.
	Retrieve(ctx context.Context, id string) (io.ReadCloser, error)

	// Remove deletes the blob and reports whether anything was removed.
	// Removing an absent blob is not an error.
	Remove(ctx context.Context, id string) (bool, error)

	// DetectType returns a MIME type for sample, using declaredName only
	// when the bytes are inconclusive.
	DetectType(sample []byte, declaredName string) string

	// Exists reports whether a blob is stored under id.
	Exists(ctx context.Context, id string) (bool, error)
}
