package fstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Download is an authorized, open blob plus its metadata.
// The caller must close Content.
type Download struct {
	Record  *FileRecord
	Content io.ReadCloser
}

// Download opens a file for requester. Public files are readable by
// anyone; private files only by their owner.
func (s *FileService) Download(ctx context.Context, rawID, requester string) (dl *Download, err error) {
	defer func() { s.recorder.ObserveDownload(ErrorKind(err)) }()

	rec, err := s.lookupActive(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if !rec.AccessibleBy(requester) {
		return nil, &AccessDeniedError{Code: CodeAccessDenied, ID: rawID}
	}

	rc, err := s.content.Retrieve(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			s.logger.Error("metadata exists but content is missing", "id", rec.ID)
			return nil, &NotFoundError{Code: CodeContentNotFound, ID: rawID}
		}
		return nil, &StorageError{ID: rec.ID, Phase: "read", Err: err}
	}

	s.logger.Debug("file opened for download", "id", rec.ID, "requester", requester)
	return &Download{Record: rec, Content: rc}, nil
}

// Get returns the metadata of one file readable by requester.
func (s *FileService) Get(ctx context.Context, rawID, requester string) (*FileRecord, error) {
	rec, err := s.lookupActive(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if !rec.AccessibleBy(requester) {
		return nil, &AccessDeniedError{Code: CodeAccessDenied, ID: rawID}
	}
	return rec, nil
}

// Delete removes a file owned by requester. It reports whether the blob
// was physically removed; an already-absent blob is logged and the
// metadata is soft-deleted regardless.
func (s *FileService) Delete(ctx context.Context, rawID, requester string) (removed bool, err error) {
	defer func() { s.recorder.ObserveDelete(ErrorKind(err)) }()

	rec, err := s.lookupActive(ctx, rawID)
	if err != nil {
		return false, err
	}
	if !rec.OwnedBy(requester) {
		return false, &AccessDeniedError{Code: CodeOwnerOnlyDelete, ID: rawID}
	}

	removed, err = s.content.Remove(ctx, rec.ID)
	if err != nil {
		s.logger.Warn("removing content failed", "id", rec.ID, "error", err)
		removed = false
	} else if !removed {
		s.logger.Warn("file was not found in storage but metadata exists", "id", rec.ID)
	}

	ok, err := s.meta.MarkDeleted(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("marking %s deleted: %w", rec.ID, err)
	}
	if !ok {
		return false, fmt.Errorf("failed to mark file metadata as deleted: %s", rec.ID)
	}

	s.logger.Info("file deleted", "id", rec.ID, "owner", requester, "content_removed", removed)
	return removed, nil
}

// Rename changes the filename of a file owned by requester. Content and
// digest are untouched. Renaming to the current name is a no-op.
func (s *FileService) Rename(ctx context.Context, rawID, newName, requester string) (rec *FileRecord, err error) {
	defer func() { s.recorder.ObserveRename(ErrorKind(err)) }()

	id, err := ParseFileID(rawID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, newValidationError(CodeNewFilenameEmpty, "New filename cannot be empty")
	}

	rec, err = s.meta.FindActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", id, err)
	}
	if rec == nil {
		return nil, &NotFoundError{Code: CodeFileNotFound, ID: rawID}
	}
	if !rec.OwnedBy(requester) {
		return nil, &AccessDeniedError{Code: CodeOwnerOnlyRename, ID: rawID}
	}
	if name == rec.Filename {
		return rec, nil
	}

	unlock, err := s.locker.Lock(ctx, FilenameLockKey(rec.OwnerID, name))
	if err != nil {
		return nil, fmt.Errorf("locking filename: %w", err)
	}
	defer unlock()

	if err := s.ensureFilenameFree(ctx, rec.OwnerID, name, CodeNewFilenameExists); err != nil {
		return nil, err
	}
	if err := s.meta.Rename(ctx, rec.ID, name); err != nil {
		var exists *AlreadyExistsError
		if errors.As(err, &exists) {
			return nil, &AlreadyExistsError{Code: CodeNewFilenameExists, Filename: name}
		}
		return nil, fmt.Errorf("renaming %s: %w", rec.ID, err)
	}

	s.logger.Info("file renamed", "id", rec.ID, "from", rec.Filename, "to", name)
	rec.Filename = name
	return rec, nil
}

// lookupActive validates rawID and loads its active record.
func (s *FileService) lookupActive(ctx context.Context, rawID string) (*FileRecord, error) {
	id, err := ParseFileID(rawID)
	if err != nil {
		return nil, err
	}
	rec, err := s.meta.FindActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", id, err)
	}
	if rec == nil {
		return nil, &NotFoundError{Code: CodeFileNotFound, ID: rawID}
	}
	return rec, nil
}
