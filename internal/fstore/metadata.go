package fstore

import (
	"context"
	"time"
)

// MetadataStore persists file records.
//
// Implementations must enforce uniqueness of (owner, filename) and of
// (owner, digest) among records whose status is not DELETED, and must
// report a violation as *AlreadyExistsError. Lookups that find nothing
// return nil with a nil error.
type MetadataStore interface {
	// Insert stores a new record. The record's Status is stored as given.
	Insert(ctx context.Context, rec *FileRecord) error

	// Activate moves a PENDING record to ACTIVE.
	Activate(ctx context.Context, id string) error

	FindActive(ctx context.Context, id string) (*FileRecord, error)
	FindActiveByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*FileRecord, error)
	FindActiveByOwnerAndDigest(ctx context.Context, ownerID, digest string) (*FileRecord, error)

	// Rename changes the filename of an ACTIVE record and nothing else.
	Rename(ctx context.Context, id, filename string) error

	// MarkDeleted soft-deletes an ACTIVE record. It returns false if no
	// active record with that id existed.
	MarkDeleted(ctx context.Context, id string) (bool, error)

	// List returns ACTIVE records matching q, newest upload first.
	List(ctx context.Context, q ListQuery) ([]*FileRecord, error)

	// FindPending returns PENDING records uploaded before cutoff.
	FindPending(ctx context.Context, cutoff time.Time) ([]*FileRecord, error)

	// CheckMigrations reports whether the schema is current.
	CheckMigrations() error

	Close() error
}

// ListQuery selects records for List.
type ListQuery struct {
	// Requester's own active files are included unless PublicOnly is set.
	Requester string
	// Tags, when non-empty, keeps records carrying at least one of them.
	Tags []string
	// Visibility, when set, keeps only records with that visibility.
	Visibility Visibility
	// IncludePublic adds other owners' public files.
	IncludePublic bool
	// PublicOnly lists public files of every owner and ignores Requester.
	PublicOnly bool
}
