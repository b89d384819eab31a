package recordstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// NewStore creates a memory.Store based on the configuration.
//
// This factory examines the StoreConfig.Provider field and creates the
// appropriate implementation:
//   - "sqlite" (default): embedded database, records survive restarts
//   - "memory": process-local map, for tests and throwaway runs
func NewStore(cfg *config.StoreConfig, logger *zap.Logger) (memory.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "sqlite", "":
		store, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("opened record store",
			zap.String("provider", "sqlite"),
			zap.String("path", cfg.Path),
		)
		return store, nil

	case "memory":
		logger.Warn("using in-memory record store; records do not survive restarts")
		return memory.NewInMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store provider: %s (supported: sqlite, memory)", cfg.Provider)
	}
}
