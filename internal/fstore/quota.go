package fstore

import "context"

// QuotaGuard decides whether a write of a given size fits the configured ceiling.
type QuotaGuard interface {
	// CheckAdmission fails with *QuotaExceededError if current usage plus
	// candidateSize exceeds the ceiling.
	CheckAdmission(ctx context.Context, candidateSize int64) error

	// Snapshot reports current usage without admitting anything.
	Snapshot(ctx context.Context) (QuotaSnapshot, error)
}
