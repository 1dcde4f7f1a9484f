package fstore

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. The typed errors below match the relevant sentinel.
var (
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrAlreadyExists = errors.New("already exists")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrStorage       = errors.New("storage failure")

	// ErrContentNotFound is returned by content stores when a blob is absent.
	ErrContentNotFound = errors.New("content not found")

	// ErrContentLocked is returned when encrypted content is read without
	// an unlocked decryption context.
	ErrContentLocked = errors.New("content store is locked")
)

// Code identifies a user-facing error condition.
type Code string

const (
	CodeFileEmpty         Code = "FILE_EMPTY"
	CodeUserIDEmpty       Code = "USER_ID_EMPTY"
	CodeFilenameEmpty     Code = "FILENAME_EMPTY"
	CodeTooManyTags       Code = "TOO_MANY_TAGS"
	CodeInvalidVisibility Code = "INVALID_VISIBILITY"
	CodeInvalidFileID     Code = "INVALID_FILE_ID"
	CodeFileNotFound      Code = "FILE_NOT_FOUND"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeContentNotFound   Code = "FILE_CONTENT_NOT_FOUND"
	CodeFilenameExists    Code = "FILENAME_EXISTS"
	CodeContentExists     Code = "CONTENT_EXISTS"
	CodeOwnerOnlyDelete   Code = "OWNER_ONLY_DELETE"
	CodeOwnerOnlyRename   Code = "OWNER_ONLY_RENAME"
	CodeNewFilenameEmpty  Code = "NEW_FILENAME_EMPTY"
	CodeNewFilenameExists Code = "NEW_FILENAME_EXISTS"
)

// ValidationError reports malformed caller input. It is never wrapped by
// the upload path so callers can tell bad input from system failure.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record or missing backing content.
type NotFoundError struct {
	Code Code
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Code == CodeContentNotFound {
		return fmt.Sprintf("File content not found: %s", e.ID)
	}
	return fmt.Sprintf("File not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AccessDeniedError reports a visibility or ownership violation.
type AccessDeniedError struct {
	Code Code
	ID   string
}

func (e *AccessDeniedError) Error() string {
	switch e.Code {
	case CodeOwnerOnlyDelete:
		return "Access denied: Only the file owner can delete this file"
	case CodeOwnerOnlyRename:
		return "Access denied: Only the file owner can rename this file"
	default:
		return fmt.Sprintf("Access denied to file: %s", e.ID)
	}
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// AlreadyExistsError reports a filename or content collision, whether caught
// by a pre-check or by the metadata store's uniqueness constraint.
type AlreadyExistsError struct {
	Code Code
	// Filename is the colliding name for filename conflicts, or the name of
	// the existing file for content conflicts. It may be empty when the
	// conflict came from a constraint that does not expose the row.
	Filename string
}

func (e *AlreadyExistsError) Error() string {
	if e.Code == CodeContentExists {
		if e.Filename == "" {
			return "File with identical content already exists for user"
		}
		return fmt.Sprintf("File with identical content already exists for user: %s", e.Filename)
	}
	return fmt.Sprintf("File with name '%s' already exists for user", e.Filename)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// QuotaExceededError carries the figures that caused an admission refusal.
type QuotaExceededError struct {
	Current   int64
	Attempted int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Storage limit exceeded. Current: %d bytes, Adding: %d bytes, Limit: %d bytes",
		e.Current, e.Attempted, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// StorageError wraps an I/O failure with the blob and phase it happened in.
type StorageError struct {
	ID    string
	Phase string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Phase, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// UploadError wraps any failure after validation during an upload.
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string { return "File upload failed: " + e.Cause.Error() }

func (e *UploadError) Unwrap() error { return e.Cause }

// ErrorKind classifies err for metrics labels and CLI exit reporting.
func ErrorKind(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "error"
	}
}
