package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/guregu/null/v6"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
)

// MetadataProvider is a scripted entity.MetadataProvider.
type MetadataProvider struct {
	mu       sync.Mutex
	ids      map[string]string
	metadata map[string]entity.AssetMetadata
	failures map[string]error

	// FetchHook, when set, runs before every fetch and may replace its result.
	FetchHook func(ctx context.Context, providerID string) (metadata entity.AssetMetadata, handled bool, err error)

	ResolveCalls atomic.Int32
	FetchCalls   atomic.Int32
}

func NewMetadataProvider() *MetadataProvider {
	return &MetadataProvider{
		ids:      make(map[string]string),
		metadata: make(map[string]entity.AssetMetadata),
		failures: make(map[string]error),
	}
}

// Register makes symbol resolvable to providerID with the given metadata.
func (p *MetadataProvider) Register(symbol string, providerID string, metadata entity.AssetMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()

	metadata.ProviderID = null.StringFrom(providerID)
	p.ids[entity.NormalizeSymbol(symbol)] = providerID
	p.metadata[providerID] = metadata
}

// Fail makes every fetch of providerID return err. A nil err clears it.
func (p *MetadataProvider) Fail(providerID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		delete(p.failures, providerID)
		return
	}
	p.failures[providerID] = err
}

func (p *MetadataProvider) ResolveSymbol(ctx context.Context, symbol string) (string, error) {
	p.ResolveCalls.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.ids[entity.NormalizeSymbol(symbol)]
	if !ok {
		return "", entity.WrapSymbol(entity.ErrUnknownAsset, symbol, "unknown asset")
	}

	return id, nil
}

func (p *MetadataProvider) FetchMetadata(ctx context.Context, providerID string) (entity.AssetMetadata, error) {
	p.FetchCalls.Add(1)

	if p.FetchHook != nil {
		if metadata, handled, err := p.FetchHook(ctx, providerID); handled {
			return metadata, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failures[providerID]; err != nil {
		return entity.AssetMetadata{}, err
	}

	metadata, ok := p.metadata[providerID]
	if !ok {
		return entity.AssetMetadata{}, perrors.WrapWithContext(entity.ErrProviderUnavailable, entity.ErrProviderUnavailable.Code(),
			"provider returned status 404", map[string]interface{}{"provider_id": providerID})
	}

	return metadata, nil
}
