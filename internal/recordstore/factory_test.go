package recordstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func TestNewStore_SQLite(t *testing.T) {
	cfg := &config.StoreConfig{
		Provider: "sqlite",
		Path:     filepath.Join(t.TempDir(), "records.db"),
	}

	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &SQLiteStore{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewStore_EmptyProviderDefaultsToSQLite(t *testing.T) {
	cfg := &config.StoreConfig{
		Path: filepath.Join(t.TempDir(), "records.db"),
	}

	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &SQLiteStore{}, store)
}

func TestNewStore_Memory(t *testing.T) {
	store, err := NewStore(&config.StoreConfig{Provider: "memory"}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &memory.InMemoryStore{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewStore_UnsupportedProvider(t *testing.T) {
	_, err := NewStore(&config.StoreConfig{Provider: "postgres"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store provider")
}

func TestNewStore_NilConfig(t *testing.T) {
	_, err := NewStore(nil, zap.NewNop())
	require.Error(t, err)
}

func TestNewStore_NilLogger(t *testing.T) {
	store, err := NewStore(&config.StoreConfig{Provider: "memory"}, nil)
	require.NoError(t, err)
	defer store.Close()
}
