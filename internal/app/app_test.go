package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/lock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreBackends(t *testing.T) {
	cases := []config.APIConfig{
		{Store: config.StoreMemory},
		{Store: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "tycoon.db")},
	}
	for _, cfg := range cases {
		t.Run(cfg.Store, func(t *testing.T) {
			ctx := context.Background()
			store, closeStore, err := OpenStore(ctx, cfg, nil)
			require.NoError(t, err)
			defer closeStore()
			require.NoError(t, store.Migrate(ctx))

			svc := game.NewService(store, nil)
			require.NoError(t, SeedCatalog(ctx, svc, cfg))

			out, err := svc.Load(ctx, "p1")
			require.NoError(t, err)
			assert.Len(t, out.Businesses, 10)
			assert.True(t, out.Capital.Equal(decimal.NewFromInt(1000)))
		})
	}
}

func TestOpenStoreUnknown(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.APIConfig{Store: "mongo"}, nil)
	assert.Error(t, err)
}

func TestSeedCatalogFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`businesses:
  - id: 7
    name: Kiosk
    unlocking_price: "5"
    base_rewards: "2"
    base_upgrading_price: "3"
    cooldown: 1.5
    manager_cost: "100"
`), 0o600))

	cfg := config.APIConfig{Store: config.StoreMemory, CatalogFile: path}
	store, closeStore, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	defer closeStore()
	svc := game.NewService(store, nil)
	require.NoError(t, SeedCatalog(ctx, svc, cfg))

	defs, err := svc.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Kiosk", defs[0].Name)
	assert.InDelta(t, 1.5, defs[0].Cooldown, 1e-9)

	cfg.CatalogFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, SeedCatalog(ctx, svc, cfg))
}

func TestDefaultsWithoutRedisOrAMQP(t *testing.T) {
	locker, closeLocker, err := NewLocker(context.Background(), config.APIConfig{}, nil)
	require.NoError(t, err)
	defer closeLocker()
	_, ok := locker.(*lock.Local)
	assert.True(t, ok)

	notifier, closeNotifier := NewNotifier(config.APIConfig{}, nil)
	defer closeNotifier()
	assert.Nil(t, notifier)
}
