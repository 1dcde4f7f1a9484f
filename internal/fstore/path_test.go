package fstore_test

import (
	"errors"
	"path/filepath"
	"testing"

	"fstore-go/internal/fstore"
)

func TestShardKey(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"3f2a9c1e-0000-4000-8000-000000000001", "3f/2a/3f2a9c1e-0000-4000-8000-000000000001", false},
		{"abcd", "ab/cd/abcd", false},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := fstore.ShardKey(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ShardKey(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ShardKey(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestStorageLocation(t *testing.T) {
	id := "3f2a9c1e-0000-4000-8000-000000000001"
	first, err := fstore.StorageLocation("/data", id)
	if err != nil {
		t.Fatalf("StorageLocation() error = %v", err)
	}
	second, _ := fstore.StorageLocation("/data", id)
	if first != second {
		t.Errorf("StorageLocation() not stable: %q vs %q", first, second)
	}
	want := filepath.Join("/data", "3f", "2a", id)
	if first != want {
		t.Errorf("StorageLocation() = %q, want %q", first, want)
	}

	sibling, _ := fstore.StorageLocation("/data", "3f2a0000-0000-4000-8000-000000000002")
	if filepath.Dir(sibling) != filepath.Dir(first) {
		t.Errorf("IDs sharing a prefix should share a shard directory: %q vs %q", sibling, first)
	}
	if sibling == first {
		t.Error("distinct IDs mapped to the same location")
	}
}

func TestParseFileID(t *testing.T) {
	canonical := "3f2a9c1e-0000-4000-8000-00000000000a"

	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{canonical, canonical, false},
		{"3F2A9C1E-0000-4000-8000-00000000000A", canonical, false},
		{"not-a-uuid", "", true},
		{"", "", true},
		{"../../etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := fstore.ParseFileID(tt.raw)
			if tt.wantErr {
				var verr *fstore.ValidationError
				if !errors.As(err, &verr) || verr.Code != fstore.CodeInvalidFileID {
					t.Fatalf("ParseFileID(%q) error = %v, want INVALID_FILE_ID", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFileID(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseFileID(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
