package fstore_test

import (
	"errors"
	"fmt"
	"testing"

	"fstore-go/internal/fstore"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"content not found", &fstore.NotFoundError{Code: fstore.CodeContentNotFound, ID: "x"}, "File content not found: x"},
		{"content exists named", &fstore.AlreadyExistsError{Code: fstore.CodeContentExists, Filename: "a.txt"},
			"File with identical content already exists for user: a.txt"},
		{"content exists unnamed", &fstore.AlreadyExistsError{Code: fstore.CodeContentExists},
			"File with identical content already exists for user"},
		{"quota", &fstore.QuotaExceededError{Current: 1, Attempted: 2, Limit: 3},
			"Storage limit exceeded. Current: 1 bytes, Adding: 2 bytes, Limit: 3 bytes"},
		{"upload wrapper", &fstore.UploadError{Cause: errors.New("boom")}, "File upload failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	cause := errors.New("disk on fire")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"validation", &fstore.ValidationError{Code: fstore.CodeFileEmpty}, "validation"},
		{"not found", &fstore.NotFoundError{Code: fstore.CodeFileNotFound}, "not_found"},
		{"denied", &fstore.AccessDeniedError{Code: fstore.CodeAccessDenied}, "access_denied"},
		{"exists wrapped", &fstore.UploadError{Cause: &fstore.AlreadyExistsError{Code: fstore.CodeFilenameExists}}, "already_exists"},
		{"quota wrapped", &fstore.UploadError{Cause: &fstore.QuotaExceededError{}}, "quota_exceeded"},
		{"storage", fmt.Errorf("ctx: %w", &fstore.StorageError{ID: "x", Phase: "write", Err: cause}), "storage"},
		{"other", cause, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fstore.ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := errors.New("short write")
	err := error(&fstore.StorageError{ID: "x", Phase: "write", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("StorageError does not unwrap to its cause")
	}
	if !errors.Is(err, fstore.ErrStorage) {
		t.Error("StorageError does not match ErrStorage")
	}
}
