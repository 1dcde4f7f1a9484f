package staging

import "io"

// stagingStore abstracts where spooled bytes live. Concurrency is managed
// by the caller (Area.mu), so stores do not need to be safe for
// concurrent use.
type stagingStore interface {
	// StoreContent reads r to EOF, computes SHA-256 and keeps the bytes
	// under that checksum. Content already present is kept once.
	StoreContent(r io.Reader) (checksum string, size int64, err error)

	// RemoveContent removes stored content by checksum (best-effort).
	RemoveContent(checksum string)

	// OpenContent returns a reader for stored content by checksum.
	OpenContent(checksum string) (io.ReadCloser, error)

	// ContentSize returns total bytes of all stored content.
	ContentSize() (int64, error)
}
