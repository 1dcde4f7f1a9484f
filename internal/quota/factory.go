package quota

import (
	"fmt"

	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

// NewGuardFromConfig builds a Guard over source. For filesystem storage
// the caller passes DirUsage{Root: cfg.Storage.Root}; other backends
// provide their own Usage.
func NewGuardFromConfig(cfg config.QuotaConfig, source UsageSource, logger fstore.Logger) (*Guard, error) {
	maxSize, err := cfg.MaxSizeBytes()
	if err != nil {
		return nil, err
	}
	if cfg.Enabled && maxSize <= 0 {
		return nil, fmt.Errorf("quota.max_size must be positive when quota is enabled")
	}
	return NewGuard(source, cfg.Enabled, maxSize, cfg.WarnThreshold, logger), nil
}
