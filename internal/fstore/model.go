package fstore

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SniffSampleSize is the largest prefix of a blob inspected for type detection.
	SniffSampleSize = 8192

	// MaxTags is the maximum number of tags a single file may carry.
	MaxTags = 5

	// DownloadPathPrefix is joined with a file ID to form its retrieval locator.
	DownloadPathPrefix = "/api/files"
)

// Visibility controls who besides the owner may download a file.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// ParseVisibility accepts either spelling case-insensitively. Blank means private.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(VisibilityPrivate):
		return VisibilityPrivate, nil
	case string(VisibilityPublic):
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("unknown visibility: %q", s)
	}
}

// valid reports whether v is a stored spelling. Blank is accepted and
// defaults to private on upload.
func (v Visibility) valid() bool {
	return v == "" || v == VisibilityPrivate || v == VisibilityPublic
}

// Status is the lifecycle state of a metadata record.
//
// Records are inserted PENDING, move to ACTIVE once the blob is committed,
// and end DELETED. A record never leaves DELETED.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusDeleted Status = "DELETED"
)

// FileRecord is the metadata kept for one stored blob.
type FileRecord struct {
	ID          string
	Filename    string
	OwnerID     string
	Visibility  Visibility
	Tags        []string
	UploadedAt  time.Time
	ContentType string
	Size        int64
	Digest      string
	Status      Status
}

// OwnedBy reports whether requester owns the record.
func (r *FileRecord) OwnedBy(requester string) bool {
	return r.OwnerID == requester
}

// AccessibleBy reports whether requester may read the record's content.
func (r *FileRecord) AccessibleBy(requester string) bool {
	return r.Visibility == VisibilityPublic || r.OwnedBy(requester)
}

// HasTag reports whether the record carries tag exactly.
func (r *FileRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// StorageOutcome is what the content store learned while persisting a blob.
type StorageOutcome struct {
	Digest      string
	Size        int64
	ContentType string
}

// QuotaSnapshot is a point-in-time usage report. It is never cached.
type QuotaSnapshot struct {
	Enabled      bool
	CurrentUsage int64
	MaxSize      int64
	Projected    int64
	Available    int64
	Percentage   float64
	NearLimit    bool
}

// NewQuotaSnapshot derives the report fields from raw usage.
// candidate is the size of a pending write; pass 0 for a plain report.
func NewQuotaSnapshot(enabled bool, current, candidate, max int64, warnThreshold float64) QuotaSnapshot {
	snap := QuotaSnapshot{
		Enabled:      enabled,
		CurrentUsage: current,
		MaxSize:      max,
		Projected:    current + candidate,
	}
	if max > 0 {
		snap.Available = max - current
		if snap.Available < 0 {
			snap.Available = 0
		}
		snap.Percentage = float64(snap.Projected) / float64(max) * 100
		snap.NearLimit = snap.Percentage > warnThreshold
	}
	return snap
}

// NormalizeTags trims tags, drops blanks and collapses duplicates,
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
