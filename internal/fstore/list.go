package fstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// List returns the requester's active files, optionally narrowed to any of
// a set of tags or to one visibility, and optionally widened with other
// owners' public files. A PublicOnly query lists every owner's public files
// and needs no requester.
func (s *FileService) List(ctx context.Context, q ListQuery) ([]*FileRecord, error) {
	if !q.PublicOnly && strings.TrimSpace(q.Requester) == "" {
		return nil, newValidationError(CodeUserIDEmpty, "User ID cannot be empty")
	}
	if q.Visibility != "" && !q.Visibility.valid() {
		return nil, newValidationError(CodeInvalidVisibility, "Invalid visibility: %s", q.Visibility)
	}
	q.Tags = NormalizeTags(q.Tags)

	recs, err := s.meta.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return recs, nil
}

// QuotaStatus reports current storage usage against the quota.
func (s *FileService) QuotaStatus(ctx context.Context) (QuotaSnapshot, error) {
	snap, err := s.quota.Snapshot(ctx)
	if err != nil {
		return QuotaSnapshot{}, fmt.Errorf("computing quota snapshot: %w", err)
	}
	return snap, nil
}

// Orphan is a record that never reached ACTIVE.
type Orphan struct {
	Record         *FileRecord
	ContentPresent bool
}

// Reconcile reports PENDING records older than grace together with whether
// their blob exists. It repairs nothing.
func (s *FileService) Reconcile(ctx context.Context, grace time.Duration) ([]Orphan, error) {
	cutoff := s.clock.Now().Add(-grace)
	pending, err := s.meta.FindPending(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("finding pending records: %w", err)
	}

	orphans := make([]Orphan, 0, len(pending))
	for _, rec := range pending {
		present, err := s.content.Exists(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("checking content for %s: %w", rec.ID, err)
		}
		orphans = append(orphans, Orphan{Record: rec, ContentPresent: present})
	}

	s.logger.Info("reconcile sweep finished", "pending", len(orphans), "cutoff", cutoff)
	return orphans, nil
}
