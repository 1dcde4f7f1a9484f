package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

// Store is a MetadataStore that can also apply its own schema.
type Store interface {
	fstore.MetadataStore
	Migrate() error
}

// NewMetadataStoreFromConfig creates a metadata store based on the database config type.
// The memory type is migrated immediately since it starts empty on every run.
func NewMetadataStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		s, err := NewSQLiteMetadataStore(filepath.Join(cfg.DataDir, "fstore.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		s, err := NewSQLiteMetadataStore(":memory:")
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		s, err := NewPostgresMetadataStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
