// Package quota implements fstore.QuotaGuard over a pluggable usage source.
package quota

import (
	"context"
	"fmt"

	"fstore-go/internal/fstore"
)

// DefaultWarnThreshold is used when a guard is configured with a
// non-positive threshold.
const DefaultWarnThreshold = 90.0

// UsageSource reports how many bytes are currently stored.
type UsageSource interface {
	Usage(ctx context.Context) (int64, error)
}

// Guard compares projected usage against a fixed ceiling. Usage is
// recomputed on every call.
type Guard struct {
	source        UsageSource
	enabled       bool
	maxSize       int64
	warnThreshold float64
	logger        fstore.Logger
}

// NewGuard creates a Guard. A disabled guard admits everything but still
// reports usage from Snapshot.
func NewGuard(source UsageSource, enabled bool, maxSize int64, warnThreshold float64, logger fstore.Logger) *Guard {
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	if logger == nil {
		logger = fstore.NewNopLogger()
	}
	return &Guard{
		source:        source,
		enabled:       enabled,
		maxSize:       maxSize,
		warnThreshold: warnThreshold,
		logger:        logger,
	}
}

func (g *Guard) CheckAdmission(ctx context.Context, candidateSize int64) error {
	if !g.enabled {
		return nil
	}

	snap, err := g.snapshot(ctx, candidateSize)
	if err != nil {
		return err
	}

	if snap.Projected > g.maxSize {
		return &fstore.QuotaExceededError{
			Current:   snap.CurrentUsage,
			Attempted: candidateSize,
			Limit:     g.maxSize,
		}
	}

	if snap.NearLimit {
		g.logger.Warn("storage usage near limit",
			"current", snap.CurrentUsage,
			"adding", candidateSize,
			"limit", g.maxSize,
			"percent", fmt.Sprintf("%.1f", snap.Percentage))
	}
	return nil
}

func (g *Guard) Snapshot(ctx context.Context) (fstore.QuotaSnapshot, error) {
	return g.snapshot(ctx, 0)
}

func (g *Guard) snapshot(ctx context.Context, candidateSize int64) (fstore.QuotaSnapshot, error) {
	current, err := g.source.Usage(ctx)
	if err != nil {
		return fstore.QuotaSnapshot{}, fmt.Errorf("computing storage usage: %w", err)
	}
	return fstore.NewQuotaSnapshot(g.enabled, current, candidateSize, g.maxSize, g.warnThreshold), nil
}

var _ fstore.QuotaGuard = (*Guard)(nil)
