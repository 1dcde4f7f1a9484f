package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"fstore-go/internal/fstore"
)

// MemoryStore keeps blobs in a map. It is safe for concurrent use and is
// intended for tests and throwaway instances.
type MemoryStore struct {
	blobs map[string][]byte // id -> at-rest bytes
	mu    sync.RWMutex
	codec *Codec
}

// NewMemoryStore creates an empty MemoryStore. codec may be nil.
func NewMemoryStore(codec *Codec) *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), codec: codec}
}

func (m *MemoryStore) Store(_ context.Context, id string, r io.Reader, declaredName string) (fstore.StorageOutcome, error) {
	if _, err := fstore.ShardKey(id); err != nil {
		return fstore.StorageOutcome{}, err
	}

	sample, body, err := PeekSample(r)
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to read sample: %w", err)
	}
	// The sample aliases the reader's buffer.
	sample = bytes.Clone(sample)

	var buf bytes.Buffer
	w, err := m.codec.Encode(&buf)
	if err != nil {
		return fstore.StorageOutcome{}, err
	}
	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(w, h), body)
	if err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to read content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fstore.StorageOutcome{}, fmt.Errorf("failed to flush encoded data: %w", err)
	}

	m.mu.Lock()
	m.blobs[id] = buf.Bytes()
	m.mu.Unlock()

	return fstore.StorageOutcome{
		Digest:      hex.EncodeToString(h.Sum(nil)),
		Size:        written,
		ContentType: DetectType(sample, declaredName),
	}, nil
}

func (m *MemoryStore) Retrieve(_ context.Context, id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fstore.ErrContentNotFound, id)
	}
	return m.codec.Decode(bytes.NewReader(data))
}

func (m *MemoryStore) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; !ok {
		return false, nil
	}
	delete(m.blobs, id)
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok, nil
}

func (m *MemoryStore) DetectType(sample []byte, declaredName string) string {
	return DetectType(sample, declaredName)
}

// Usage sums the at-rest size of every stored blob. It lets a quota guard run
// against an in-memory store.
func (m *MemoryStore) Usage(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, data := range m.blobs {
		total += int64(len(data))
	}
	return total, nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

var _ fstore.ContentStore = (*MemoryStore)(nil)
