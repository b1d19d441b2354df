package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/krobus00/crypto-catalog-service/internal/entity"
)

// AssetCache is an in-memory entity.AssetCache with injectable failures. Like
// redis, every call fails once ctx is done.
type AssetCache struct {
	mu        sync.Mutex
	snapshots map[string]entity.AssetSnapshot

	GetErr        error
	ReplaceErr    error
	InvalidateErr error

	GetCalls int
}

func NewAssetCache() *AssetCache {
	return &AssetCache{snapshots: make(map[string]entity.AssetSnapshot)}
}

func (c *AssetCache) Put(asset entity.Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots[entity.NormalizeSymbol(asset.Symbol)] = entity.AssetSnapshot{Asset: cloneAsset(asset), CachedAt: time.Now().UTC()}
}

// Peek returns the cached aggregate without counting as a read.
func (c *AssetCache) Peek(symbol string) (entity.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.snapshots[entity.NormalizeSymbol(symbol)]
	return cloneAsset(snapshot.Asset), ok
}

func (c *AssetCache) GetSnapshot(ctx context.Context, symbol string) (*entity.AssetSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetCalls++
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if c.GetErr != nil {
		return nil, false, c.GetErr
	}

	snapshot, ok := c.snapshots[entity.NormalizeSymbol(symbol)]
	if !ok {
		return nil, false, nil
	}

	snapshot.Asset = cloneAsset(snapshot.Asset)
	return &snapshot, true, nil
}

func (c *AssetCache) Replace(ctx context.Context, asset entity.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ReplaceErr != nil {
		return c.ReplaceErr
	}

	key := entity.NormalizeSymbol(asset.Symbol)
	delete(c.snapshots, key)
	c.snapshots[key] = entity.AssetSnapshot{Asset: cloneAsset(asset), CachedAt: time.Now().UTC()}
	return nil
}

func (c *AssetCache) Invalidate(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.InvalidateErr != nil {
		return c.InvalidateErr
	}

	delete(c.snapshots, entity.NormalizeSymbol(symbol))
	return nil
}
