package staging

import (
	"fmt"

	"fstore-go/internal/config"
)

// DefaultMaxSize is the staging area size used when none is configured (1GiB).
const DefaultMaxSize int64 = 1 << 30

// NewStagingAreaFromConfig creates a staging Area based on the config type.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (*Area, error) {
	maxSize, err := cfg.MaxSizeBytes()
	if err != nil {
		return nil, err
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStagingArea(maxSize), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem staging area requires dir to be set")
		}
		return NewFileSystemStagingArea(cfg.Dir, maxSize)
	default:
		return nil, fmt.Errorf("unknown staging area type: %s", cfg.Type)
	}
}
