package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/guregu/null/v6"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/krobus00/crypto-catalog-service/internal/service/locker"
	"github.com/krobus00/crypto-catalog-service/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogFixture struct {
	store    *testutil.AssetStore
	cache    *testutil.AssetCache
	provider *testutil.MetadataProvider
	service  *CatalogService
}

func newCatalogFixture() *catalogFixture {
	f := &catalogFixture{
		store:    testutil.NewAssetStore(),
		cache:    testutil.NewAssetCache(),
		provider: testutil.NewMetadataProvider(),
	}
	f.service = NewCatalogService(f.store, f.cache, f.provider, locker.NewLocalSymbolLocker())

	return f
}

func bitcoinMetadata() entity.AssetMetadata {
	return entity.AssetMetadata{
		CurrentPriceUSD: decimal.NewNullDecimal(decimal.RequireFromString("66421.0")),
		MarketCapRank:   null.IntFrom(1),
	}
}

func TestCatalogService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("registers asset with provider metadata", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())

		asset, err := f.service.Create(ctx, "btc", "Bitcoin")
		require.NoError(t, err)
		assert.Equal(t, "BTC", asset.Symbol)
		assert.Equal(t, "Bitcoin", asset.Name)
		require.NotNil(t, asset.Metadata)
		assert.Equal(t, "bitcoin", asset.Metadata.ProviderID.String)
		assert.True(t, asset.Metadata.CurrentPriceUSD.Decimal.Equal(decimal.RequireFromString("66421.0")))

		stored, ok := f.store.Snapshot("BTC")
		require.True(t, ok)
		assert.Equal(t, asset.ID, stored.ID)

		cached, ok := f.cache.Peek("BTC")
		require.True(t, ok)
		assert.Equal(t, asset.ID, cached.ID)
		assert.Equal(t, "bitcoin", cached.Metadata.ProviderID.String)
	})

	t.Run("duplicate symbol", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.ErrorIs(t, err, entity.ErrAlreadyExists)
		assert.Zero(t, f.provider.ResolveCalls.Load())
	})

	t.Run("unknown asset persists nothing", func(t *testing.T) {
		f := newCatalogFixture()

		_, err := f.service.Create(ctx, "NOPE", "Nope")
		require.ErrorIs(t, err, entity.ErrUnknownAsset)
		assert.Zero(t, f.store.Len())
		_, cached := f.cache.Peek("NOPE")
		assert.False(t, cached)
	})

	t.Run("provider failure persists nothing", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		f.provider.Fail("bitcoin", entity.ErrProviderUnavailable)

		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.ErrorIs(t, err, entity.ErrProviderUnavailable)
		assert.True(t, perrors.IsRetryable(err))
		assert.Zero(t, f.store.Len())
	})

	t.Run("store failure leaves the cache empty", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		f.store.InsertErr = entity.ErrStoreConflict

		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.ErrorIs(t, err, entity.ErrStoreConflict)
		_, cached := f.cache.Peek("BTC")
		assert.False(t, cached)
	})

	t.Run("cache failure does not fail the create", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		f.cache.ReplaceErr = errors.New("redis down")

		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newCatalogFixture()

		tests := []struct {
			symbol string
			name   string
		}{
			{symbol: "", name: "Bitcoin"},
			{symbol: "   ", name: "Bitcoin"},
			{symbol: "ABCDEFGHIJK", name: "Too Long"},
			{symbol: "BTC", name: ""},
			{symbol: "BTC", name: strings.Repeat("x", entity.NameMaxLength+1)},
		}

		for _, tt := range tests {
			_, err := f.service.Create(ctx, tt.symbol, tt.name)
			require.ErrorIs(t, err, entity.ErrInvalidInput)
		}
		assert.Zero(t, f.provider.ResolveCalls.Load())
	})
}

func TestCatalogService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("lowercase symbol hits the cache", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.NoError(t, err)

		asset, err := f.service.Get(ctx, "btc")
		require.NoError(t, err)
		assert.Equal(t, "BTC", asset.Symbol)
		assert.Equal(t, "66421", asset.Metadata.CurrentPriceUSD.Decimal.String())
		assert.Equal(t, 1, f.store.GetCalls, "only the existence check of create reads the store")
	})

	t.Run("cache miss reads the store without populating the cache", func(t *testing.T) {
		f := newCatalogFixture()
		f.store.Seed(entity.Asset{Symbol: "ETH", Name: "Ethereum"})

		asset, err := f.service.Get(ctx, "eth")
		require.NoError(t, err)
		assert.Equal(t, "Ethereum", asset.Name)
		assert.Equal(t, 1, f.store.GetCalls)

		_, cached := f.cache.Peek("ETH")
		assert.False(t, cached)
	})

	t.Run("cache failure falls through to the store", func(t *testing.T) {
		f := newCatalogFixture()
		f.store.Seed(entity.Asset{Symbol: "ETH", Name: "Ethereum"})
		f.cache.GetErr = errors.New("redis down")

		asset, err := f.service.Get(ctx, "ETH")
		require.NoError(t, err)
		assert.Equal(t, "Ethereum", asset.Name)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		f := newCatalogFixture()

		_, err := f.service.Get(ctx, "DOGE")
		require.ErrorIs(t, err, entity.ErrNotFound)
	})
}

func TestCatalogService_List(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture()
	for _, symbol := range []string{"BTC", "ETH", "SOL"} {
		f.store.Seed(entity.Asset{Symbol: symbol, Name: symbol})
	}

	assets, err := f.service.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, assets, 3)

	assets, err = f.service.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "BTC", assets[0].Symbol)
}

func TestCatalogService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("renames and replaces the cache", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		created, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.NoError(t, err)

		updated, err := f.service.Update(ctx, "btc", entity.AssetUpdate{Name: null.StringFrom(" Bitcoin Core ")})
		require.NoError(t, err)
		assert.Equal(t, "Bitcoin Core", updated.Name)
		assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

		got, err := f.service.Get(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "Bitcoin Core", got.Name)
		assert.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))
	})

	t.Run("missing asset", func(t *testing.T) {
		f := newCatalogFixture()

		_, err := f.service.Update(ctx, "DOGE", entity.AssetUpdate{Name: null.StringFrom("Doge")})
		require.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("invalid name", func(t *testing.T) {
		f := newCatalogFixture()
		f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})

		_, err := f.service.Update(ctx, "BTC", entity.AssetUpdate{Name: null.StringFrom("  ")})
		require.ErrorIs(t, err, entity.ErrInvalidInput)
	})
}

func TestCatalogService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("get after delete is not found", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())
		_, err := f.service.Create(ctx, "BTC", "Bitcoin")
		require.NoError(t, err)

		require.NoError(t, f.service.Delete(ctx, "btc"))

		_, err = f.service.Get(ctx, "BTC")
		require.ErrorIs(t, err, entity.ErrNotFound)
		_, cached := f.cache.Peek("BTC")
		assert.False(t, cached)
	})

	t.Run("missing asset", func(t *testing.T) {
		f := newCatalogFixture()

		err := f.service.Delete(ctx, "DOGE")
		require.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("cache failure does not fail the delete", func(t *testing.T) {
		f := newCatalogFixture()
		f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"})
		f.cache.InvalidateErr = errors.New("redis down")

		require.NoError(t, f.service.Delete(ctx, "BTC"))
		assert.Zero(t, f.store.Len())
	})
}

func TestCatalogService_CacheFollowsCommitWhenCallerCancels(t *testing.T) {
	cancelAfterCommit := func(t *testing.T, f *catalogFixture) context.Context {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		f.store.AfterCommit = func(context.Context, string) { cancel() }
		return ctx
	}

	t.Run("create", func(t *testing.T) {
		f := newCatalogFixture()
		f.provider.Register("BTC", "bitcoin", bitcoinMetadata())

		_, err := f.service.Create(cancelAfterCommit(t, f), "BTC", "Bitcoin")
		require.NoError(t, err)

		cached, ok := f.cache.Peek("BTC")
		require.True(t, ok)
		assert.Equal(t, "Bitcoin", cached.Name)
	})

	t.Run("update", func(t *testing.T) {
		f := newCatalogFixture()
		f.cache.Put(f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Old"}))

		_, err := f.service.Update(cancelAfterCommit(t, f), "BTC", entity.AssetUpdate{Name: null.StringFrom("New")})
		require.NoError(t, err)

		got, err := f.service.Get(context.Background(), "BTC")
		require.NoError(t, err)
		assert.Equal(t, "New", got.Name)
	})

	t.Run("delete", func(t *testing.T) {
		f := newCatalogFixture()
		f.cache.Put(f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Bitcoin"}))

		require.NoError(t, f.service.Delete(cancelAfterCommit(t, f), "BTC"))

		_, cached := f.cache.Peek("BTC")
		assert.False(t, cached)
		_, err := f.service.Get(context.Background(), "BTC")
		require.ErrorIs(t, err, entity.ErrNotFound)
	})
}

func TestCatalogService_FailedCacheReplaceDropsStaleEntry(t *testing.T) {
	f := newCatalogFixture()
	f.cache.Put(f.store.Seed(entity.Asset{Symbol: "BTC", Name: "Old"}))
	f.cache.ReplaceErr = errors.New("redis down")

	_, err := f.service.Update(context.Background(), "BTC", entity.AssetUpdate{Name: null.StringFrom("New")})
	require.NoError(t, err)

	_, cached := f.cache.Peek("BTC")
	assert.False(t, cached)

	got, err := f.service.Get(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
}
