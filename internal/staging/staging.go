// Package staging spools upload sources that must be read more than once.
//
// An upload reads its source twice: once for the duplicate-content check
// and once to store it. Stdin cannot be reopened and a regular file may
// change between the reads, so both are copied into a staging area first.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"fstore-go/internal/fstore"
)

// ErrStagingFull is returned when spooling would exceed the area's max size.
var ErrStagingFull = errors.New("staging area full")

// Area is a size-bounded spool shared by concurrent uploads.
type Area struct {
	store   stagingStore
	maxSize int64

	mu   sync.Mutex
	refs map[string]int
}

func newArea(store stagingStore, maxSize int64) *Area {
	return &Area{store: store, maxSize: maxSize, refs: make(map[string]int)}
}

// Stage copies r into the area. The caller must Release the result.
func (a *Area) Stage(r io.Reader) (*Spooled, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used, err := a.store.ContentSize()
	if err != nil {
		return nil, fmt.Errorf("getting current size: %w", err)
	}

	capped := &cappedReader{r: r, remaining: a.maxSize - used, max: a.maxSize}
	checksum, size, err := a.store.StoreContent(capped)
	if err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}
	a.refs[checksum]++

	return &Spooled{area: a, checksum: checksum, size: size}, nil
}

// StageFile spools the regular file at path and fails if the file's
// metadata changed while it was being copied.
func (a *Area) StageFile(path string) (*Spooled, error) {
	info1, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if !info1.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	stat1, err := extractStatData(info1)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	spooled, err := a.Stage(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	info2, err := os.Stat(path)
	if err != nil {
		spooled.Release()
		return nil, fmt.Errorf("re-stat file: %w", err)
	}
	stat2, err := extractStatData(info2)
	if err != nil {
		spooled.Release()
		return nil, err
	}
	if err := validateStatUnchanged(info1, info2, stat1, stat2); err != nil {
		spooled.Release()
		return nil, fmt.Errorf("file changed during staging: %w", err)
	}
	return spooled, nil
}

// Used reports the bytes currently spooled.
func (a *Area) Used() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.ContentSize()
}

func (a *Area) release(checksum string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.refs[checksum]--
	if a.refs[checksum] <= 0 {
		delete(a.refs, checksum)
		a.store.RemoveContent(checksum)
	}
}

func (a *Area) open(checksum string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.OpenContent(checksum)
}

// Spooled is staged content usable as an fstore.UploadSource.
type Spooled struct {
	area     *Area
	checksum string
	size     int64
	once     sync.Once
}

func (s *Spooled) Open() (io.ReadCloser, error) { return s.area.open(s.checksum) }
func (s *Spooled) Size() int64                  { return s.size }

// Digest is the SHA-256 of the spooled bytes.
func (s *Spooled) Digest() string { return s.checksum }

// Release drops the spooled content once no other upload shares it.
// Calling it more than once is harmless.
func (s *Spooled) Release() {
	s.once.Do(func() { s.area.release(s.checksum) })
}

var _ fstore.UploadSource = (*Spooled)(nil)

// cappedReader fails with ErrStagingFull once more than remaining bytes
// have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	max       int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// Distinguish a source that ends exactly at the limit.
		var extra [1]byte
		n, err := c.r.Read(extra[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: would exceed max size of %d bytes", ErrStagingFull, c.max)
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}
