package store

import (
	"fmt"
	"os"
	"path/filepath"

	"jot-go/internal/config"
	"jot-go/internal/jot"
)

// NewStoreFromConfig creates the item store described by the database
// config. resourceDir is where resource blobs are kept; both directories
// are created when missing.
func NewStoreFromConfig(cfg config.DatabaseConfig, resourceDir string, clock jot.Clock, idgen jot.IDGenerator) (*SQLiteStore, error) {
	if resourceDir != "" {
		if err := os.MkdirAll(resourceDir, 0755); err != nil {
			return nil, fmt.Errorf("creating resource directory: %w", err)
		}
	}
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "jot.db"), resourceDir, clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", resourceDir, clock, idgen)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
