package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guregu/null/v6"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssetCache(t *testing.T, cfg config.CacheConfig) (*AssetCacheRepository, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewAssetCacheRepository(client, cfg), server
}

func testBitcoin() entity.Asset {
	return entity.Asset{
		ID:        1,
		Symbol:    "BTC",
		Name:      "Bitcoin",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata: &entity.AssetMetadata{
			AssetID:         1,
			CurrentPriceUSD: decimal.NewNullDecimal(decimal.RequireFromString("66421.0")),
			MarketCapRank:   null.IntFrom(1),
			ProviderID:      null.StringFrom("bitcoin"),
		},
	}
}

func TestAssetCacheRepository_Key(t *testing.T) {
	cache, _ := newTestAssetCache(t, config.CacheConfig{KeyPrefix: "asset:"})

	assert.Equal(t, "asset:BTC", cache.Key("btc"))
	assert.Equal(t, "asset:BTC", cache.Key(" BTC "))
	assert.Equal(t, cache.Key("eth"), cache.Key("ETH"))
}

func TestAssetCacheRepository_ReplaceAndGetSnapshot(t *testing.T) {
	ctx := context.Background()
	cache, server := newTestAssetCache(t, config.CacheConfig{})

	asset := testBitcoin()
	require.NoError(t, cache.Replace(ctx, asset))

	assert.True(t, server.Exists("BTC"))
	assert.Equal(t, time.Hour, server.TTL("BTC"))

	snapshot, found, err := cache.GetSnapshot(ctx, "btc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "BTC", snapshot.Asset.Symbol)
	assert.Equal(t, "Bitcoin", snapshot.Asset.Name)
	require.NotNil(t, snapshot.Asset.Metadata)
	assert.True(t, snapshot.Asset.Metadata.CurrentPriceUSD.Decimal.Equal(decimal.RequireFromString("66421.0")))
	assert.Equal(t, "bitcoin", snapshot.Asset.Metadata.ProviderID.String)
	assert.False(t, snapshot.Asset.Metadata.TotalVolumeUSD.Valid)
	assert.False(t, snapshot.CachedAt.IsZero())
}

func TestAssetCacheRepository_ReplaceOverwritesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestAssetCache(t, config.CacheConfig{TTL: time.Minute})

	asset := testBitcoin()
	require.NoError(t, cache.Replace(ctx, asset))

	asset.Name = "Bitcoin Core"
	require.NoError(t, cache.Replace(ctx, asset))

	snapshot, found, err := cache.GetSnapshot(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Bitcoin Core", snapshot.Asset.Name)
}

func TestAssetCacheRepository_GetSnapshotMiss(t *testing.T) {
	cache, _ := newTestAssetCache(t, config.CacheConfig{})

	snapshot, found, err := cache.GetSnapshot(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snapshot)
}

func TestAssetCacheRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, server := newTestAssetCache(t, config.CacheConfig{TTL: time.Minute})

	require.NoError(t, cache.Replace(ctx, testBitcoin()))
	server.FastForward(2 * time.Minute)

	_, found, err := cache.GetSnapshot(ctx, "BTC")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAssetCacheRepository_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache, server := newTestAssetCache(t, config.CacheConfig{})

	require.NoError(t, cache.Replace(ctx, testBitcoin()))
	require.NoError(t, cache.Invalidate(ctx, "btc"))
	assert.False(t, server.Exists("BTC"))

	// deleting a missing key is not an error
	require.NoError(t, cache.Invalidate(ctx, "btc"))
}

func TestAssetCacheRepository_RawOperations(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestAssetCache(t, config.CacheConfig{})

	exists, err := cache.Exists(ctx, "ETH")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, cache.SetWithTTL(ctx, "ETH", []byte("payload"), time.Minute))

	exists, err = cache.Exists(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, exists)

	value, found, err := cache.Get(ctx, "ETH")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), value)

	require.NoError(t, cache.Delete(ctx, "ETH"))

	_, found, err = cache.Get(ctx, "ETH")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAssetCacheRepository_CorruptedSnapshot(t *testing.T) {
	ctx := context.Background()
	cache, server := newTestAssetCache(t, config.CacheConfig{})

	require.NoError(t, server.Set("BTC", "{not-json"))

	_, found, err := cache.GetSnapshot(ctx, "BTC")
	require.Error(t, err)
	assert.False(t, found)
}

func TestAssetCacheRepository_Unreachable(t *testing.T) {
	ctx := context.Background()
	cache, server := newTestAssetCache(t, config.CacheConfig{})
	server.Close()

	_, _, err := cache.GetSnapshot(ctx, "BTC")
	require.Error(t, err)

	require.Error(t, cache.Replace(ctx, testBitcoin()))
	require.Error(t, cache.Invalidate(ctx, "BTC"))
}
