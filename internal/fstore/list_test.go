package fstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fstore-go/internal/fstore"
	"fstore-go/internal/testutil"
)

func TestFileService_List(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()

	mustUpload := func(owner, name, body string, vis fstore.Visibility, tags ...string) {
		t.Helper()
		f.clock.Advance(time.Minute)
		_, err := f.svc.Upload(ctx, fstore.UploadRequest{
			Source: fstore.BytesSource(body), OwnerID: owner, Filename: name, Visibility: vis, Tags: tags,
		})
		if err != nil {
			t.Fatalf("Upload(%s) error = %v", name, err)
		}
	}
	mustUpload("alice", "a1.txt", "a1", fstore.VisibilityPrivate, "work")
	mustUpload("alice", "a2.txt", "a2", fstore.VisibilityPublic, "home")
	mustUpload("bob", "b1.txt", "b1", fstore.VisibilityPublic, "work")
	mustUpload("bob", "b2.txt", "b2", fstore.VisibilityPrivate, "work")

	tests := []struct {
		name string
		q    fstore.ListQuery
		want []string
	}{
		{"own files newest first", fstore.ListQuery{Requester: "alice"}, []string{"a2.txt", "a1.txt"}},
		{"own files by tag", fstore.ListQuery{Requester: "alice", Tags: []string{" work "}}, []string{"a1.txt"}},
		{"own files by any tag", fstore.ListQuery{Requester: "alice", Tags: []string{"home", "work", ""}}, []string{"a2.txt", "a1.txt"}},
		{"own public files", fstore.ListQuery{Requester: "alice", Visibility: fstore.VisibilityPublic}, []string{"a2.txt"}},
		{"with public", fstore.ListQuery{Requester: "alice", IncludePublic: true}, []string{"b1.txt", "a2.txt", "a1.txt"}},
		{"with public by tag", fstore.ListQuery{Requester: "alice", Tags: []string{"work"}, IncludePublic: true}, []string{"b1.txt", "a1.txt"}},
		{"with public, private only", fstore.ListQuery{Requester: "alice", IncludePublic: true, Visibility: fstore.VisibilityPrivate}, []string{"a1.txt"}},
		{"public only", fstore.ListQuery{PublicOnly: true}, []string{"b1.txt", "a2.txt"}},
		{"public only ignores requester", fstore.ListQuery{Requester: "bob", PublicOnly: true, Tags: []string{"home"}}, []string{"a2.txt"}},
		{"stranger sees nothing of their own", fstore.ListQuery{Requester: "carol"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := f.svc.List(ctx, tt.q)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var got []string
			for _, r := range recs {
				got = append(got, r.Filename)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFileService_List_RequiresRequester(t *testing.T) {
	f := newFixture(t, 1<<20)
	_, err := f.svc.List(context.Background(), fstore.ListQuery{Requester: " "})
	var verr *fstore.ValidationError
	if !errors.As(err, &verr) || verr.Code != fstore.CodeUserIDEmpty {
		t.Errorf("List() error = %v, want USER_ID_EMPTY", err)
	}
}

func TestFileService_List_InvalidVisibility(t *testing.T) {
	f := newFixture(t, 1<<20)
	_, err := f.svc.List(context.Background(), fstore.ListQuery{Requester: "alice", Visibility: "shared"})
	var verr *fstore.ValidationError
	if !errors.As(err, &verr) || verr.Code != fstore.CodeInvalidVisibility {
		t.Errorf("List() error = %v, want INVALID_VISIBILITY", err)
	}
}

func TestFileService_QuotaStatus(t *testing.T) {
	f := newFixture(t, 1000)
	if err := os.WriteFile(filepath.Join(f.root, "filler"), make([]byte, 600), 0o644); err != nil {
		t.Fatal(err)
	}
	f.upload(t, "alice", "a.bin", string(make([]byte, 320)))

	snap, err := f.svc.QuotaStatus(context.Background())
	if err != nil {
		t.Fatalf("QuotaStatus() error = %v", err)
	}
	if !snap.Enabled || snap.CurrentUsage != 920 || snap.MaxSize != 1000 {
		t.Errorf("QuotaStatus() = %+v", snap)
	}
	if snap.Available != 80 {
		t.Errorf("Available = %d, want 80", snap.Available)
	}
	if !snap.NearLimit {
		t.Error("NearLimit = false at 92%")
	}
}

func TestFileService_Reconcile(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	now := f.clock.Now()

	stale := &fstore.FileRecord{
		ID: testutil.StubID(500), Filename: "stale.txt", OwnerID: "alice",
		Visibility: fstore.VisibilityPrivate, UploadedAt: now.Add(-2 * time.Hour),
		ContentType: "text/plain", Size: 5, Digest: testutil.SHA256Hex([]byte("stale")),
		Status: fstore.StatusPending,
	}
	fresh := &fstore.FileRecord{
		ID: testutil.StubID(501), Filename: "fresh.txt", OwnerID: "alice",
		Visibility: fstore.VisibilityPrivate, UploadedAt: now.Add(-time.Minute),
		ContentType: "text/plain", Size: 5, Digest: testutil.SHA256Hex([]byte("fresh")),
		Status: fstore.StatusPending,
	}
	stored := &fstore.FileRecord{
		ID: testutil.StubID(502), Filename: "stored.txt", OwnerID: "alice",
		Visibility: fstore.VisibilityPrivate, UploadedAt: now.Add(-3 * time.Hour),
		ContentType: "text/plain", Size: 6, Digest: testutil.SHA256Hex([]byte("stored")),
		Status: fstore.StatusPending,
	}
	for _, rec := range []*fstore.FileRecord{stale, fresh, stored} {
		if err := f.meta.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) error = %v", rec.Filename, err)
		}
	}
	if _, err := f.blobs.Store(ctx, stored.ID, strings.NewReader("stored"), stored.Filename); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	f.upload(t, "alice", "active.txt", "active")

	orphans, err := f.svc.Reconcile(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("Reconcile() returned %d orphans, want 2", len(orphans))
	}
	present := map[string]bool{}
	for _, o := range orphans {
		present[o.Record.Filename] = o.ContentPresent
	}
	if p, ok := present["stale.txt"]; !ok || p {
		t.Errorf("stale.txt: found=%v present=%v, want found without content", ok, p)
	}
	if p, ok := present["stored.txt"]; !ok || !p {
		t.Errorf("stored.txt: found=%v present=%v, want found with content", ok, p)
	}
}
