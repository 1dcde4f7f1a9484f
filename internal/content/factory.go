package content

import (
	"context"
	"fmt"

	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

// NewContentStoreFromConfig creates a ContentStore based on the storage config type.
func NewContentStoreFromConfig(ctx context.Context, cfg config.StorageConfig, codec *Codec) (fstore.ContentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(codec), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem storage requires root to be set")
		}
		return NewFileSystemStore(cfg.Root, codec)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, codec)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
