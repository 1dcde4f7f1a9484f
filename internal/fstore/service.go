package fstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// FileService coordinates the content store, quota guard and metadata
// store to admit, serve, rename and remove files.
type FileService struct {
	meta     MetadataStore
	content  ContentStore
	quota    QuotaGuard
	locker   Locker
	recorder Recorder
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// Option customizes a FileService.
type Option func(*FileService)

// WithLocker serializes admissions sharing an owner+filename or
// owner+digest key. Without it no lock is taken.
func WithLocker(l Locker) Option {
	return func(s *FileService) { s.locker = l }
}

// WithRecorder reports operation outcomes, typically to metrics.
func WithRecorder(r Recorder) Option {
	return func(s *FileService) { s.recorder = r }
}

// NewFileService creates a FileService with the provided dependencies.
func NewFileService(meta MetadataStore, content ContentStore, quota QuotaGuard, logger Logger, clock Clock, idgen IDGenerator, opts ...Option) *FileService {
	s := &FileService{
		meta:     meta,
		content:  content,
		quota:    quota,
		locker:   NopLocker{},
		recorder: NopRecorder{},
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadRequest is one file offered for admission.
type UploadRequest struct {
	Source     UploadSource
	OwnerID    string
	Filename   string
	Visibility Visibility
	Tags       []string
}

// UploadResponse describes a committed upload.
type UploadResponse struct {
	ID          string
	Filename    string
	Visibility  Visibility
	ContentType string
	Size        int64
	UploadedAt  time.Time
	Tags        []string
	DownloadURL string
}

// Upload admits one file. The checks run in a fixed order and stop at
// the first failure: validation, quota, filename collision, content
// collision, physical store, metadata commit.
//
// Validation failures are returned as *ValidationError. Every later
// failure is returned as *UploadError wrapping its cause.
func (s *FileService) Upload(ctx context.Context, req UploadRequest) (resp *UploadResponse, err error) {
	var size int64
	defer func() { s.recorder.ObserveUpload(ErrorKind(err), size) }()

	tags, err := validateUpload(req)
	if err != nil {
		return nil, err
	}
	if req.Visibility == "" {
		req.Visibility = VisibilityPrivate
	}

	resp, err = s.admit(ctx, req, tags)
	if err != nil {
		s.logger.Error("upload failed", "owner", req.OwnerID, "filename", req.Filename, "error", err)
		return nil, &UploadError{Cause: err}
	}
	size = resp.Size

	s.logger.Info("file uploaded", "id", resp.ID, "owner", req.OwnerID, "filename", resp.Filename, "size", resp.Size, "type", resp.ContentType)
	return resp, nil
}

func validateUpload(req UploadRequest) ([]string, error) {
	if req.Source == nil || req.Source.Size() <= 0 {
		return nil, newValidationError(CodeFileEmpty, "File cannot be empty")
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, newValidationError(CodeUserIDEmpty, "User ID cannot be empty")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, newValidationError(CodeFilenameEmpty, "Filename cannot be empty")
	}
	if !req.Visibility.valid() {
		return nil, newValidationError(CodeInvalidVisibility, "Invalid visibility: %s", req.Visibility)
	}
	tags := NormalizeTags(req.Tags)
	if len(tags) > MaxTags {
		return nil, newValidationError(CodeTooManyTags, "Maximum %d tags allowed, but %d provided", MaxTags, len(tags))
	}
	return tags, nil
}

func (s *FileService) admit(ctx context.Context, req UploadRequest, tags []string) (*UploadResponse, error) {
	if err := s.quota.CheckAdmission(ctx, req.Source.Size()); err != nil {
		return nil, err
	}

	unlockName, err := s.locker.Lock(ctx, FilenameLockKey(req.OwnerID, req.Filename))
	if err != nil {
		return nil, fmt.Errorf("locking filename: %w", err)
	}
	defer unlockName()

	if err := s.ensureFilenameFree(ctx, req.OwnerID, req.Filename, CodeFilenameExists); err != nil {
		return nil, err
	}

	digest, err := s.digest(req.Source, req.Filename)
	if err != nil {
		return nil, err
	}

	unlockDigest, err := s.locker.Lock(ctx, DigestLockKey(req.OwnerID, digest))
	if err != nil {
		return nil, fmt.Errorf("locking digest: %w", err)
	}
	defer unlockDigest()

	existing, err := s.meta.FindActiveByOwnerAndDigest(ctx, req.OwnerID, digest)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate content: %w", err)
	}
	if existing != nil {
		return nil, &AlreadyExistsError{Code: CodeContentExists, Filename: existing.Filename}
	}

	id := s.idgen.New()
	outcome, err := s.store(ctx, id, req.Source, req.Filename)
	if err != nil {
		return nil, err
	}
	if outcome.Digest != digest {
		s.logger.Warn("source changed between digest and storage passes", "id", id, "precheck", digest, "stored", outcome.Digest)
	}

	rec := &FileRecord{
		ID:          id,
		Filename:    req.Filename,
		OwnerID:     req.OwnerID,
		Visibility:  req.Visibility,
		Tags:        tags,
		UploadedAt:  s.clock.Now(),
		ContentType: outcome.ContentType,
		Size:        outcome.Size,
		Digest:      outcome.Digest,
		Status:      StatusPending,
	}
	if err := s.commit(ctx, rec); err != nil {
		return nil, err
	}

	if tags == nil {
		tags = []string{}
	}
	return &UploadResponse{
		ID:          rec.ID,
		Filename:    rec.Filename,
		Visibility:  rec.Visibility,
		ContentType: rec.ContentType,
		Size:        rec.Size,
		UploadedAt:  rec.UploadedAt,
		Tags:        tags,
		DownloadURL: DownloadPathPrefix + "/" + rec.ID,
	}, nil
}

// ensureFilenameFree fails with code if owner already has an active file named filename.
func (s *FileService) ensureFilenameFree(ctx context.Context, ownerID, filename string, code Code) error {
	existing, err := s.meta.FindActiveByOwnerAndFilename(ctx, ownerID, filename)
	if err != nil {
		return fmt.Errorf("checking for duplicate filename: %w", err)
	}
	if existing != nil {
		return &AlreadyExistsError{Code: code, Filename: filename}
	}
	return nil
}

// digest is the pre-pass over the source used for the content collision check.
func (s *FileService) digest(src UploadSource, filename string) (string, error) {
	rc, err := src.Open()
	if err != nil {
		return "", &StorageError{ID: filename, Phase: "hash", Err: err}
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", &StorageError{ID: filename, Phase: "hash", Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *FileService) store(ctx context.Context, id string, src UploadSource, filename string) (StorageOutcome, error) {
	rc, err := src.Open()
	if err != nil {
		return StorageOutcome{}, &StorageError{ID: id, Phase: "write", Err: err}
	}
	defer rc.Close()

	outcome, err := s.content.Store(ctx, id, rc, filename)
	if err != nil {
		return StorageOutcome{}, &StorageError{ID: id, Phase: "write", Err: err}
	}
	return outcome, nil
}

// commit records rec as PENDING and then activates it. A failure leaves
// the blob (and possibly a PENDING row) behind for reconciliation.
func (s *FileService) commit(ctx context.Context, rec *FileRecord) error {
	if err := s.meta.Insert(ctx, rec); err != nil {
		s.logger.Warn("metadata insert failed, blob orphaned", "id", rec.ID, "error", err)
		var exists *AlreadyExistsError
		if errors.As(err, &exists) {
			return exists
		}
		return fmt.Errorf("inserting metadata for %s: %w", rec.ID, err)
	}
	if err := s.meta.Activate(ctx, rec.ID); err != nil {
		s.logger.Warn("metadata activation failed, record left pending", "id", rec.ID, "error", err)
		return fmt.Errorf("activating metadata for %s: %w", rec.ID, err)
	}
	rec.Status = StatusActive
	return nil
}
