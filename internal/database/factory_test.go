package database

import (
	"context"
	"testing"

	"fstore-go/internal/config"
)

func TestNewMetadataStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory database is migrated", func(t *testing.T) {
		got, err := NewMetadataStoreFromConfig(ctx, config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewMetadataStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database needs migration", func(t *testing.T) {
		got, err := NewMetadataStoreFromConfig(ctx, config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("NewMetadataStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() on fresh file database = nil, want error")
		}
		if err := got.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() after Migrate() error = %v", err)
		}
	})

	errorCases := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"sqlite database without data_dir", config.DatabaseConfig{Type: "sqlite"}},
		{"postgres without dsn", config.DatabaseConfig{Type: "postgres"}},
		{"unknown database type", config.DatabaseConfig{Type: "unknown"}},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMetadataStoreFromConfig(ctx, tt.cfg)
			if err == nil {
				t.Error("NewMetadataStoreFromConfig() expected error, got nil")
			}
			if got != nil {
				t.Error("NewMetadataStoreFromConfig() should return nil on error")
				got.Close()
			}
		})
	}
}
