package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"fstore-go/internal/content"
	"fstore-go/internal/fstore"
	"fstore-go/internal/quota"
)

// NewTestContentStore creates a FileSystemStore rooted in a temp directory
// and returns it with the root.
func NewTestContentStore(t *testing.T) (*content.FileSystemStore, string) {
	t.Helper()

	root := t.TempDir()
	s, err := content.NewFileSystemStore(root, nil)
	if err != nil {
		t.Fatalf("failed to create content store: %v", err)
	}
	return s, root
}

// NewTestQuotaGuard creates an enabled guard that measures root against maxSize.
func NewTestQuotaGuard(root string, maxSize int64) *quota.Guard {
	return quota.NewGuard(quota.DirUsage{Root: root}, true, maxSize, 90, nil)
}

// ErrInjected is returned by FaultyContentStore for injected failures.
var ErrInjected = errors.New("injected failure")

// FaultyContentStore wraps a ContentStore and fails selected operations.
type FaultyContentStore struct {
	fstore.ContentStore

	mu           sync.Mutex
	FailStore    bool
	FailRetrieve bool
	FailRemove   bool
	StoreCalls   int
}

func NewFaultyContentStore(inner fstore.ContentStore) *FaultyContentStore {
	return &FaultyContentStore{ContentStore: inner}
}

func (f *FaultyContentStore) Store(ctx context.Context, id string, r io.Reader, name string) (fstore.StorageOutcome, error) {
	f.mu.Lock()
	f.StoreCalls++
	fail := f.FailStore
	f.mu.Unlock()
	if fail {
		return fstore.StorageOutcome{}, ErrInjected
	}
	return f.ContentStore.Store(ctx, id, r, name)
}

func (f *FaultyContentStore) Retrieve(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	fail := f.FailRetrieve
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return f.ContentStore.Retrieve(ctx, id)
}

func (f *FaultyContentStore) Remove(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	fail := f.FailRemove
	f.mu.Unlock()
	if fail {
		return false, ErrInjected
	}
	return f.ContentStore.Remove(ctx, id)
}
