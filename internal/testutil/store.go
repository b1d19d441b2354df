// Package testutil holds in-memory doubles of the catalog collaborators.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/krobus00/crypto-catalog-service/internal/entity"
)

// AssetStore is an in-memory entity.AssetRepository.
type AssetStore struct {
	mu     sync.Mutex
	nextID int64
	assets map[string]entity.Asset

	ListErr           error
	GetErr            error
	InsertErr         error
	UpdateErr         error
	UpdateMetadataErr map[string]error
	DeleteErr         error

	// AfterCommit, when set, runs after every successful write with the store
	// lock held. It must not call back into the store.
	AfterCommit func(ctx context.Context, symbol string)

	GetCalls int
}

func NewAssetStore() *AssetStore {
	return &AssetStore{
		assets:            make(map[string]entity.Asset),
		UpdateMetadataErr: make(map[string]error),
	}
}

// Seed stores asset as-is, assigning an id when missing.
func (s *AssetStore) Seed(asset entity.Asset) entity.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.ID == 0 {
		s.nextID++
		asset.ID = s.nextID
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
		asset.UpdatedAt = asset.CreatedAt
	}
	if asset.Metadata != nil {
		metadata := *asset.Metadata
		metadata.AssetID = asset.ID
		asset.Metadata = &metadata
	}

	s.assets[asset.Symbol] = asset
	return cloneAsset(asset)
}

// Snapshot returns the stored aggregate without counting as a read.
func (s *AssetStore) Snapshot(symbol string) (entity.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[symbol]
	return cloneAsset(asset), ok
}

func (s *AssetStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.assets)
}

func (s *AssetStore) ListAll(ctx context.Context, limit int) ([]entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}

	assets := make([]entity.Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		assets = append(assets, cloneAsset(asset))
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })

	if limit > 0 && len(assets) > limit {
		assets = assets[:limit]
	}

	return assets, nil
}

func (s *AssetStore) GetBySymbol(ctx context.Context, symbol string) (*entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.GetCalls++
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	asset, ok := s.assets[symbol]
	if !ok {
		return nil, entity.WrapSymbol(entity.ErrNotFound, symbol, "asset not found")
	}

	clone := cloneAsset(asset)
	return &clone, nil
}

func (s *AssetStore) Insert(ctx context.Context, asset entity.Asset, metadata *entity.AssetMetadata) (*entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		return nil, s.InsertErr
	}
	if _, ok := s.assets[asset.Symbol]; ok {
		return nil, entity.WrapSymbol(entity.ErrAlreadyExists, asset.Symbol, "asset already exists")
	}

	s.nextID++
	asset.ID = s.nextID
	asset.CreatedAt = time.Now().UTC()
	asset.UpdatedAt = asset.CreatedAt
	if metadata != nil {
		inserted := *metadata
		inserted.AssetID = asset.ID
		asset.Metadata = &inserted
	}

	s.assets[asset.Symbol] = asset
	s.afterCommit(ctx, asset.Symbol)

	clone := cloneAsset(asset)
	return &clone, nil
}

func (s *AssetStore) UpdateFields(ctx context.Context, symbol string, update entity.AssetUpdate) (*entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}

	asset, ok := s.assets[symbol]
	if !ok {
		return nil, entity.WrapSymbol(entity.ErrNotFound, symbol, "asset not found")
	}

	if !update.IsEmpty() {
		asset.Name = update.Name.String
		asset.UpdatedAt = nextTimestamp(asset.UpdatedAt)
		s.assets[symbol] = asset
	}
	s.afterCommit(ctx, symbol)

	clone := cloneAsset(asset)
	return &clone, nil
}

func (s *AssetStore) UpdateMetadata(ctx context.Context, symbol string, patch entity.AssetMetadata) (*entity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.UpdateMetadataErr[symbol]; err != nil {
		return nil, err
	}

	asset, ok := s.assets[symbol]
	if !ok {
		return nil, entity.WrapSymbol(entity.ErrNotFound, symbol, "asset not found")
	}

	merged := entity.AssetMetadata{AssetID: asset.ID}
	if asset.Metadata != nil {
		merged = *asset.Metadata
	}
	merged.Merge(patch)

	asset.Metadata = &merged
	asset.UpdatedAt = nextTimestamp(asset.UpdatedAt)
	s.assets[symbol] = asset
	s.afterCommit(ctx, symbol)

	clone := cloneAsset(asset)
	return &clone, nil
}

func (s *AssetStore) DeleteBySymbol(ctx context.Context, symbol string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return false, s.DeleteErr
	}

	_, ok := s.assets[symbol]
	delete(s.assets, symbol)
	if ok {
		s.afterCommit(ctx, symbol)
	}
	return ok, nil
}

func (s *AssetStore) afterCommit(ctx context.Context, symbol string) {
	if s.AfterCommit != nil {
		s.AfterCommit(ctx, symbol)
	}
}

// nextTimestamp keeps updated_at strictly increasing even on coarse clocks.
func nextTimestamp(previous time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(previous) {
		return previous.Add(time.Microsecond)
	}

	return now
}

func cloneAsset(asset entity.Asset) entity.Asset {
	if asset.Metadata != nil {
		metadata := *asset.Metadata
		asset.Metadata = &metadata
	}

	return asset
}
