package repository

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

const defaultAssetCacheTTL = time.Hour

type AssetCacheRepository struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

func NewAssetCacheRepository(client *redis.Client, cfg config.CacheConfig) *AssetCacheRepository {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultAssetCacheTTL
	}

	return &AssetCacheRepository{
		client:    client,
		ttl:       ttl,
		keyPrefix: cfg.KeyPrefix,
	}
}

// Key returns the cache key of symbol. Lookups with "btc" and "BTC" share a key.
func (r *AssetCacheRepository) Key(symbol string) string {
	return r.keyPrefix + entity.NormalizeSymbol(symbol)
}

func (r *AssetCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapCacheError(err, "cache exists failed", key)
	}

	return count > 0, nil
}

func (r *AssetCacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapCacheError(err, "cache get failed", key)
	}

	return value, true, nil
}

func (r *AssetCacheRepository) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		return wrapCacheError(err, "cache set failed", key)
	}

	return nil
}

func (r *AssetCacheRepository) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if err != nil {
		return wrapCacheError(err, "cache delete failed", key)
	}

	return nil
}

func (r *AssetCacheRepository) GetSnapshot(ctx context.Context, symbol string) (*entity.AssetSnapshot, bool, error) {
	key := r.Key(symbol)

	value, found, err := r.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	snapshot := new(entity.AssetSnapshot)
	err = json.Unmarshal(value, snapshot)
	if err != nil {
		return nil, false, wrapCacheError(err, "cache snapshot is corrupted", key)
	}

	return snapshot, true, nil
}

// Replace deletes the cached snapshot of asset and inserts the new one. A
// failed delete does not stop the insert since the insert overwrites anyway.
func (r *AssetCacheRepository) Replace(ctx context.Context, asset entity.Asset) error {
	key := r.Key(asset.Symbol)

	deleteErr := r.Delete(ctx, key)

	payload, err := json.Marshal(entity.AssetSnapshot{
		Asset:    asset,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = r.SetWithTTL(ctx, key, payload, r.ttl)
	if err != nil {
		return errors.Join(deleteErr, err)
	}

	return nil
}

func (r *AssetCacheRepository) Invalidate(ctx context.Context, symbol string) error {
	return r.Delete(ctx, r.Key(symbol))
}

func wrapCacheError(err error, message string, key string) error {
	return perrors.WrapWithContext(err, perrors.CodeUnavailable, message, map[string]interface{}{
		"key": key,
	})
}
