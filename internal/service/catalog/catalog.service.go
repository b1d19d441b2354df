package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	DefaultListLimit      = 100
	cacheReconcileTimeout = 5 * time.Second
)

// CatalogService is the read/write entry point for assets. Reads go through the
// cache, writes go to the record store first and reconcile the cache after.
type CatalogService struct {
	assetRepo  entity.AssetRepository
	assetCache entity.AssetCache
	provider   entity.MetadataProvider
	locker     entity.SymbolLocker
}

func NewCatalogService(assetRepo entity.AssetRepository, assetCache entity.AssetCache, provider entity.MetadataProvider, locker entity.SymbolLocker) *CatalogService {
	return &CatalogService{
		assetRepo:  assetRepo,
		assetCache: assetCache,
		provider:   provider,
		locker:     locker,
	}
}

// Get returns the cached snapshot of symbol when present and falls back to the
// record store otherwise. A store read never populates the cache.
func (s *CatalogService) Get(ctx context.Context, symbol string) (*entity.Asset, error) {
	symbol, err := ValidateSymbol(symbol)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithField("symbol", symbol)

	snapshot, found, err := s.assetCache.GetSnapshot(ctx, symbol)
	if err != nil {
		logger.WithError(err).Warn("cache read failed, falling back to record store")
	}
	if err == nil && found {
		asset := snapshot.Asset
		return &asset, nil
	}

	return s.assetRepo.GetBySymbol(ctx, symbol)
}

func (s *CatalogService) List(ctx context.Context, limit int) ([]entity.Asset, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	return s.assetRepo.ListAll(ctx, limit)
}

// Create registers symbol after the provider confirms it exists. The asset and
// its first metadata snapshot are committed together or not at all.
func (s *CatalogService) Create(ctx context.Context, symbol string, name string) (*entity.Asset, error) {
	symbol, err := ValidateSymbol(symbol)
	if err != nil {
		return nil, err
	}

	name, err = ValidateName(name)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithField("symbol", symbol)

	_, err = s.assetRepo.GetBySymbol(ctx, symbol)
	switch {
	case err == nil:
		return nil, entity.WrapSymbol(entity.ErrAlreadyExists, symbol, fmt.Sprintf("asset %s already exists", symbol))
	case !errors.Is(err, entity.ErrNotFound):
		return nil, err
	}

	providerID, err := s.provider.ResolveSymbol(ctx, symbol)
	if err != nil {
		logger.WithError(err).Warn("failed to resolve symbol")
		return nil, err
	}

	metadata, err := s.provider.FetchMetadata(ctx, providerID)
	if err != nil {
		logger.WithError(err).WithField("provider_id", providerID).Warn("failed to fetch metadata")
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	asset, err := s.assetRepo.Insert(ctx, entity.Asset{Symbol: symbol, Name: name}, &metadata)
	if err != nil {
		return nil, err
	}

	s.replaceCached(ctx, *asset)

	logger.WithField("provider_id", providerID).Info("asset created")

	return asset, nil
}

func (s *CatalogService) Update(ctx context.Context, symbol string, update entity.AssetUpdate) (*entity.Asset, error) {
	symbol, err := ValidateSymbol(symbol)
	if err != nil {
		return nil, err
	}

	if update.Name.Valid {
		name, err := ValidateName(update.Name.String)
		if err != nil {
			return nil, err
		}
		update.Name.String = name
	}

	unlock, err := s.locker.Lock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	asset, err := s.assetRepo.UpdateFields(ctx, symbol, update)
	if err != nil {
		return nil, err
	}

	s.replaceCached(ctx, *asset)

	return asset, nil
}

func (s *CatalogService) Delete(ctx context.Context, symbol string) error {
	symbol, err := ValidateSymbol(symbol)
	if err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, symbol)
	if err != nil {
		return err
	}
	defer unlock()

	deleted, err := s.assetRepo.DeleteBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if !deleted {
		return entity.WrapSymbol(entity.ErrNotFound, symbol, fmt.Sprintf("asset %s not found", symbol))
	}

	s.invalidateCached(ctx, symbol)

	logrus.WithField("symbol", symbol).Info("asset deleted")

	return nil
}

// replaceCached runs after a commit and outlives the cancellation of ctx. A
// failed replace falls back to invalidating the entry.
func (s *CatalogService) replaceCached(ctx context.Context, asset entity.Asset) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheReconcileTimeout)
	defer cancel()

	err := s.assetCache.Replace(ctx, asset)
	if err == nil {
		return
	}
	logrus.WithError(err).WithField("symbol", asset.Symbol).Warn("failed to replace cached asset, invalidating")

	s.invalidateCached(ctx, asset.Symbol)
}

func (s *CatalogService) invalidateCached(ctx context.Context, symbol string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheReconcileTimeout)
	defer cancel()

	err := s.assetCache.Invalidate(ctx, symbol)
	if err != nil {
		// the entry expires on its own ttl
		logrus.WithError(err).WithField("symbol", symbol).Error("failed to invalidate cached asset")
	}
}

// ValidateSymbol normalizes symbol and checks its length.
func ValidateSymbol(symbol string) (string, error) {
	symbol = entity.NormalizeSymbol(symbol)
	if symbol == "" || utf8.RuneCountInString(symbol) > entity.SymbolMaxLength {
		return "", perrors.WrapWithContext(entity.ErrInvalidInput, entity.ErrInvalidInput.Code(),
			fmt.Sprintf("symbol must be between 1 and %d characters", entity.SymbolMaxLength),
			map[string]interface{}{"field": "symbol", "value": symbol})
	}

	return symbol, nil
}

func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > entity.NameMaxLength {
		return "", perrors.WrapWithContext(entity.ErrInvalidInput, entity.ErrInvalidInput.Code(),
			fmt.Sprintf("name must be between 1 and %d characters", entity.NameMaxLength),
			map[string]interface{}{"field": "name"})
	}

	return name, nil
}
