package fstore_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fstore-go/internal/content"
	"fstore-go/internal/database"
	"fstore-go/internal/fstore"
	"fstore-go/internal/lock"
	"fstore-go/internal/testutil"
)

type fixture struct {
	svc     *fstore.FileService
	meta    *database.SQLiteMetadataStore
	content *testutil.FaultyContentStore
	blobs   *content.FileSystemStore
	root    string
	clock   *testutil.StubClock
	logger  *testutil.RecordingLogger
}

func newFixture(t *testing.T, maxSize int64, opts ...fstore.Option) *fixture {
	t.Helper()
	meta := testutil.NewTestMetadataStore(t)
	blobs, root := testutil.NewTestContentStore(t)
	faulty := testutil.NewFaultyContentStore(blobs)
	clock := testutil.FixedClock()
	logger := testutil.NewRecordingLogger()

	svc := fstore.NewFileService(meta, faulty, testutil.NewTestQuotaGuard(root, maxSize), logger,
		clock, testutil.NewStubIDGenerator(), opts...)
	return &fixture{svc: svc, meta: meta, content: faulty, blobs: blobs, root: root, clock: clock, logger: logger}
}

func (f *fixture) upload(t *testing.T, owner, name, body string) *fstore.UploadResponse {
	t.Helper()
	resp, err := f.svc.Upload(context.Background(), fstore.UploadRequest{
		Source:   fstore.BytesSource(body),
		OwnerID:  owner,
		Filename: name,
	})
	if err != nil {
		t.Fatalf("Upload(%s, %s) error = %v", owner, name, err)
	}
	return resp
}

func (f *fixture) uploadPublic(t *testing.T, owner, name, body string) *fstore.UploadResponse {
	t.Helper()
	resp, err := f.svc.Upload(context.Background(), fstore.UploadRequest{
		Source:     fstore.BytesSource(body),
		OwnerID:    owner,
		Filename:   name,
		Visibility: fstore.VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("Upload(%s, %s) error = %v", owner, name, err)
	}
	return resp
}

// storedBlobs counts regular files under the storage root.
func storedBlobs(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking storage root: %v", err)
	}
	return n
}

func TestFileService_Upload(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	body := "hello, file store"

	resp, err := f.svc.Upload(ctx, fstore.UploadRequest{
		Source:   fstore.BytesSource(body),
		OwnerID:  "alice",
		Filename: "hello.txt",
		Tags:     []string{" greeting ", "greeting", "demo"},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	wantID := testutil.StubID(1)
	if resp.ID != wantID {
		t.Errorf("ID = %s, want %s", resp.ID, wantID)
	}
	if resp.DownloadURL != "/api/files/"+wantID {
		t.Errorf("DownloadURL = %s", resp.DownloadURL)
	}
	if resp.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", resp.Size, len(body))
	}
	if resp.Visibility != fstore.VisibilityPrivate {
		t.Errorf("Visibility = %s, want PRIVATE", resp.Visibility)
	}
	if !strings.HasPrefix(resp.ContentType, "text/plain") {
		t.Errorf("ContentType = %s, want text/plain", resp.ContentType)
	}
	if !resp.UploadedAt.Equal(f.clock.Now()) {
		t.Errorf("UploadedAt = %v, want %v", resp.UploadedAt, f.clock.Now())
	}
	if len(resp.Tags) != 2 || resp.Tags[0] != "greeting" || resp.Tags[1] != "demo" {
		t.Errorf("Tags = %v, want [greeting demo]", resp.Tags)
	}

	rec, err := f.meta.FindActive(ctx, wantID)
	if err != nil || rec == nil {
		t.Fatalf("FindActive() = %v, %v", rec, err)
	}
	if rec.Digest != testutil.SHA256Hex([]byte(body)) {
		t.Errorf("Digest = %s, want SHA-256 of content", rec.Digest)
	}
	if rec.Status != fstore.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", rec.Status)
	}

	loc, err := fstore.StorageLocation(f.root, wantID)
	if err != nil {
		t.Fatalf("StorageLocation() error = %v", err)
	}
	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("blob not at storage location: %v", err)
	}
	if string(data) != body {
		t.Errorf("blob = %q, want %q", data, body)
	}
}

func TestFileService_Upload_EmptyTagsIsEmptyList(t *testing.T) {
	f := newFixture(t, 1<<20)
	resp := f.upload(t, "alice", "a.txt", "a")
	if resp.Tags == nil || len(resp.Tags) != 0 {
		t.Errorf("Tags = %#v, want empty non-nil slice", resp.Tags)
	}
}

func TestFileService_Upload_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  fstore.UploadRequest
		code fstore.Code
		msg  string
	}{
		{
			name: "nil source",
			req:  fstore.UploadRequest{OwnerID: "alice", Filename: "a.txt"},
			code: fstore.CodeFileEmpty,
			msg:  "File cannot be empty",
		},
		{
			name: "empty content",
			req:  fstore.UploadRequest{Source: fstore.BytesSource(""), OwnerID: "alice", Filename: "a.txt"},
			code: fstore.CodeFileEmpty,
			msg:  "File cannot be empty",
		},
		{
			name: "blank owner",
			req:  fstore.UploadRequest{Source: fstore.BytesSource("x"), OwnerID: "  ", Filename: "a.txt"},
			code: fstore.CodeUserIDEmpty,
			msg:  "User ID cannot be empty",
		},
		{
			name: "blank filename",
			req:  fstore.UploadRequest{Source: fstore.BytesSource("x"), OwnerID: "alice", Filename: ""},
			code: fstore.CodeFilenameEmpty,
			msg:  "Filename cannot be empty",
		},
		{
			name: "too many tags",
			req: fstore.UploadRequest{Source: fstore.BytesSource("x"), OwnerID: "alice", Filename: "a.txt",
				Tags: []string{"1", "2", "3", "4", "5", "6"}},
			code: fstore.CodeTooManyTags,
			msg:  "Maximum 5 tags allowed, but 6 provided",
		},
		{
			name: "unknown visibility",
			req: fstore.UploadRequest{Source: fstore.BytesSource("x"), OwnerID: "alice", Filename: "a.txt",
				Visibility: "public"},
			code: fstore.CodeInvalidVisibility,
			msg:  "Invalid visibility: public",
		},
		{
			name: "empty content reported before blank owner",
			req:  fstore.UploadRequest{Source: fstore.BytesSource(""), OwnerID: "", Filename: ""},
			code: fstore.CodeFileEmpty,
			msg:  "File cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1<<20)

			_, err := f.svc.Upload(context.Background(), tt.req)
			var verr *fstore.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Upload() error = %v, want ValidationError", err)
			}
			var uerr *fstore.UploadError
			if errors.As(err, &uerr) {
				t.Errorf("validation failure should not be wrapped in UploadError: %v", err)
			}
			if verr.Code != tt.code {
				t.Errorf("Code = %s, want %s", verr.Code, tt.code)
			}
			if err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.msg)
			}
			if f.content.StoreCalls != 0 {
				t.Errorf("content store called %d times, want 0", f.content.StoreCalls)
			}
		})
	}
}

func TestFileService_Upload_DuplicatesCollapseIntoTagLimit(t *testing.T) {
	f := newFixture(t, 1<<20)
	_, err := f.svc.Upload(context.Background(), fstore.UploadRequest{
		Source: fstore.BytesSource("x"), OwnerID: "alice", Filename: "a.txt",
		Tags: []string{"a", "b", "c", "d", "e", "a", " "},
	})
	if err != nil {
		t.Errorf("Upload() error = %v, want success after normalization", err)
	}
}

func TestFileService_Upload_FilenameCollision(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	f.upload(t, "alice", "report.txt", "first version")

	_, err := f.svc.Upload(ctx, fstore.UploadRequest{
		Source: fstore.BytesSource("second version"), OwnerID: "alice", Filename: "report.txt",
	})
	var uerr *fstore.UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("Upload() error = %v, want UploadError", err)
	}
	var exists *fstore.AlreadyExistsError
	if !errors.As(err, &exists) || exists.Code != fstore.CodeFilenameExists {
		t.Fatalf("Upload() error = %v, want filename AlreadyExistsError", err)
	}
	want := "File upload failed: File with name 'report.txt' already exists for user"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if f.content.StoreCalls != 1 {
		t.Errorf("content store called %d times, want 1", f.content.StoreCalls)
	}

	// Another owner may use the same name.
	f.upload(t, "bob", "report.txt", "bob's report")
}

func TestFileService_Upload_ContentCollision(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	f.upload(t, "alice", "first.txt", "identical bytes")

	_, err := f.svc.Upload(ctx, fstore.UploadRequest{
		Source: fstore.BytesSource("identical bytes"), OwnerID: "alice", Filename: "second.txt",
	})
	if !errors.Is(err, fstore.ErrAlreadyExists) {
		t.Fatalf("Upload() error = %v, want ErrAlreadyExists", err)
	}
	var exists *fstore.AlreadyExistsError
	errors.As(err, &exists)
	if exists.Code != fstore.CodeContentExists || exists.Filename != "first.txt" {
		t.Errorf("AlreadyExistsError = %+v, want content conflict naming first.txt", exists)
	}
	if storedBlobs(t, f.root) != 1 {
		t.Errorf("stored blobs = %d, want 1", storedBlobs(t, f.root))
	}

	// Content uniqueness is per owner.
	f.upload(t, "bob", "copy.txt", "identical bytes")
}

func TestFileService_Upload_Quota(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(f.root, "existing"), make([]byte, 950), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Upload(ctx, fstore.UploadRequest{
		Source: fstore.BytesSource(strings.Repeat("x", 100)), OwnerID: "alice", Filename: "big.bin",
	})
	var uerr *fstore.UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("Upload() error = %v, want UploadError", err)
	}
	var qerr *fstore.QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("Upload() error = %v, want QuotaExceededError", err)
	}
	if qerr.Current != 950 || qerr.Attempted != 100 || qerr.Limit != 1000 {
		t.Errorf("QuotaExceededError = %+v, want current=950 adding=100 limit=1000", qerr)
	}
	want := "File upload failed: Storage limit exceeded. Current: 950 bytes, Adding: 100 bytes, Limit: 1000 bytes"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if f.content.StoreCalls != 0 {
		t.Errorf("content store called after quota refusal")
	}

	f.upload(t, "alice", "small.bin", strings.Repeat("y", 40))
}

func TestFileService_Upload_StorageFailure(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.content.FailStore = true

	_, err := f.svc.Upload(context.Background(), fstore.UploadRequest{
		Source: fstore.BytesSource("data"), OwnerID: "alice", Filename: "a.txt",
	})
	if !errors.Is(err, fstore.ErrStorage) {
		t.Fatalf("Upload() error = %v, want ErrStorage", err)
	}
	if !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("Upload() error = %v, want the underlying cause preserved", err)
	}

	recs, err := f.meta.List(context.Background(), fstore.ListQuery{Requester: "alice"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("metadata records after failed store = %d, want 0", len(recs))
	}
}

func TestFileService_Upload_AfterDeleteReusesNameAndContent(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	first := f.upload(t, "alice", "a.txt", "same")

	if _, err := f.svc.Delete(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	second := f.upload(t, "alice", "a.txt", "same")
	if second.ID == first.ID {
		t.Error("re-upload reused the deleted file's ID")
	}
}

func TestFileService_Upload_ConcurrentSameFilename(t *testing.T) {
	f := newFixture(t, 1<<20, fstore.WithLocker(lock.NewLocalLocker()))
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Upload(ctx, fstore.UploadRequest{
				Source:   fstore.BytesSource(strings.Repeat("v", i+1)),
				OwnerID:  "alice",
				Filename: "race.txt",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, fstore.ErrAlreadyExists):
				conflicts++
			default:
				t.Errorf("Upload() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Errorf("successes = %d, conflicts = %d; want 1 and %d", successes, conflicts, n-1)
	}
	if got := storedBlobs(t, f.root); got != 1 {
		t.Errorf("stored blobs = %d, want 1", got)
	}
}

// gatedStore holds every Store call until n calls have arrived, so that
// all uploads pass their pre-checks before any of them commits.
type gatedStore struct {
	fstore.ContentStore

	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func newGatedStore(inner fstore.ContentStore, n int) *gatedStore {
	return &gatedStore{ContentStore: inner, n: n, release: make(chan struct{})}
}

func (g *gatedStore) Store(ctx context.Context, id string, r io.Reader, name string) (fstore.StorageOutcome, error) {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.n {
		close(g.release)
	}
	g.mu.Unlock()

	select {
	case <-g.release:
	case <-time.After(5 * time.Second):
	}
	return g.ContentStore.Store(ctx, id, r, name)
}

func TestFileService_Upload_ConcurrentWithoutLocker(t *testing.T) {
	const n = 4

	tests := []struct {
		name     string
		filename func(i int) string
		body     func(i int) string
		code     fstore.Code
	}{
		{
			name:     "identical content",
			filename: func(i int) string { return fmt.Sprintf("copy-%d.txt", i) },
			body:     func(int) string { return "same bytes" },
			code:     fstore.CodeContentExists,
		},
		{
			name:     "same filename",
			filename: func(int) string { return "race.txt" },
			body:     func(i int) string { return strings.Repeat("v", i+1) },
			code:     fstore.CodeFilenameExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := testutil.NewTestMetadataStore(t)
			blobs, root := testutil.NewTestContentStore(t)
			svc := fstore.NewFileService(meta, newGatedStore(blobs, n), testutil.NewTestQuotaGuard(root, 1<<20),
				testutil.NewRecordingLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := svc.Upload(context.Background(), fstore.UploadRequest{
						Source:   fstore.BytesSource(tt.body(i)),
						OwnerID:  "alice",
						Filename: tt.filename(i),
					})
					mu.Lock()
					defer mu.Unlock()
					var exists *fstore.AlreadyExistsError
					switch {
					case err == nil:
						successes++
					case errors.As(err, &exists):
						conflicts++
						if exists.Code != tt.code {
							t.Errorf("conflict code = %s, want %s", exists.Code, tt.code)
						}
						var uerr *fstore.UploadError
						if !errors.As(err, &uerr) {
							t.Errorf("commit conflict not wrapped in UploadError: %v", err)
						}
					default:
						t.Errorf("Upload() unexpected error = %v", err)
					}
				}(i)
			}
			wg.Wait()

			if successes != 1 || conflicts != n-1 {
				t.Errorf("successes = %d, conflicts = %d; want 1 and %d", successes, conflicts, n-1)
			}
			recs, err := meta.List(context.Background(), fstore.ListQuery{Requester: "alice"})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(recs) != 1 {
				t.Errorf("active records = %d, want 1", len(recs))
			}
		})
	}
}

type countingRecorder struct {
	mu      sync.Mutex
	uploads map[string]int
	sizes   []int64
	other   map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{uploads: map[string]int{}, other: map[string]int{}}
}

func (r *countingRecorder) ObserveUpload(result string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[result]++
	r.sizes = append(r.sizes, size)
}

func (r *countingRecorder) ObserveDownload(result string) { r.observe("download:" + result) }
func (r *countingRecorder) ObserveDelete(result string)   { r.observe("delete:" + result) }
func (r *countingRecorder) ObserveRename(result string)   { r.observe("rename:" + result) }

func (r *countingRecorder) observe(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.other[key]++
}

func TestFileService_RecordsOutcomes(t *testing.T) {
	rec := newCountingRecorder()
	f := newFixture(t, 1<<20, fstore.WithRecorder(rec))
	ctx := context.Background()

	resp := f.upload(t, "alice", "a.txt", "abc")
	f.svc.Upload(ctx, fstore.UploadRequest{Source: fstore.BytesSource("abc"), OwnerID: "alice", Filename: "b.txt"})
	f.svc.Upload(ctx, fstore.UploadRequest{OwnerID: "alice", Filename: "c.txt"})
	f.svc.Download(ctx, resp.ID, "bob")
	f.svc.Delete(ctx, resp.ID, "alice")
	f.svc.Rename(ctx, resp.ID, "z.txt", "alice")

	if rec.uploads["ok"] != 1 || rec.uploads["already_exists"] != 1 || rec.uploads["validation"] != 1 {
		t.Errorf("upload results = %v", rec.uploads)
	}
	if rec.sizes[0] != 3 {
		t.Errorf("first upload size = %d, want 3", rec.sizes[0])
	}
	for _, key := range []string{"download:access_denied", "delete:ok", "rename:not_found"} {
		if rec.other[key] != 1 {
			t.Errorf("%s = %d, want 1 (all: %v)", key, rec.other[key], rec.other)
		}
	}
}
