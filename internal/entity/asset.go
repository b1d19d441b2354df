package entity

import (
	"context"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

const (
	SymbolMaxLength = 10
	NameMaxLength   = 100
)

type Asset struct {
	ID        int64          `db:"id" json:"id"`
	Symbol    string         `db:"symbol" json:"symbol"`
	Name      string         `db:"name" json:"name"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
	Metadata  *AssetMetadata `db:"-" json:"metadata"`
}

func (a Asset) TableName() string {
	return "assets"
}

// ProviderID returns the provider identifier stored in the asset metadata, or
// an empty string when the asset has not been resolved yet.
func (a Asset) ProviderID() string {
	if a.Metadata == nil || !a.Metadata.ProviderID.Valid {
		return ""
	}

	return a.Metadata.ProviderID.String
}

// AssetMetadata doubles as a partial patch: only Valid fields are applied by Merge.
type AssetMetadata struct {
	AssetID                  int64               `db:"asset_id" json:"-"`
	CurrentPriceUSD          decimal.NullDecimal `db:"current_price_usd" json:"current_price_usd"`
	PriceChangePercentage24h null.Float          `db:"price_change_percentage_24h" json:"price_change_percentage_24h"`
	TotalVolumeUSD           decimal.NullDecimal `db:"total_volume_usd" json:"total_volume_usd"`
	MarketCapUSD             decimal.NullDecimal `db:"market_cap_usd" json:"market_cap_usd"`
	MarketCapRank            null.Int            `db:"market_cap_rank" json:"market_cap_rank"`
	ProviderID               null.String         `db:"provider_id" json:"provider_id"`
	ProviderTimestamp        null.Time           `db:"provider_timestamp" json:"provider_timestamp"`
	LastCheckedAt            null.Time           `db:"last_checked_at" json:"last_checked_at"`
}

func (m AssetMetadata) TableName() string {
	return "asset_metadata"
}

// Merge applies every non-null field of patch onto m. Fields missing from the
// patch keep their current value.
func (m *AssetMetadata) Merge(patch AssetMetadata) {
	if patch.CurrentPriceUSD.Valid {
		m.CurrentPriceUSD = patch.CurrentPriceUSD
	}
	if patch.PriceChangePercentage24h.Valid {
		m.PriceChangePercentage24h = patch.PriceChangePercentage24h
	}
	if patch.TotalVolumeUSD.Valid {
		m.TotalVolumeUSD = patch.TotalVolumeUSD
	}
	if patch.MarketCapUSD.Valid {
		m.MarketCapUSD = patch.MarketCapUSD
	}
	if patch.MarketCapRank.Valid {
		m.MarketCapRank = patch.MarketCapRank
	}
	if patch.ProviderID.Valid {
		m.ProviderID = patch.ProviderID
	}
	if patch.ProviderTimestamp.Valid {
		m.ProviderTimestamp = patch.ProviderTimestamp
	}
	if patch.LastCheckedAt.Valid {
		m.LastCheckedAt = patch.LastCheckedAt
	}
}

type AssetUpdate struct {
	Name null.String `json:"name"`
}

func (u AssetUpdate) IsEmpty() bool {
	return !u.Name.Valid
}

// AssetSnapshot is the cached form of an asset aggregate.
type AssetSnapshot struct {
	Asset    Asset     `json:"asset"`
	CachedAt time.Time `json:"cached_at"`
}

// NormalizeSymbol trims and uppercases a symbol. Every lookup key goes through it.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

type AssetRepository interface {
	ListAll(ctx context.Context, limit int) ([]Asset, error)
	GetBySymbol(ctx context.Context, symbol string) (*Asset, error)
	Insert(ctx context.Context, asset Asset, metadata *AssetMetadata) (*Asset, error)
	UpdateFields(ctx context.Context, symbol string, update AssetUpdate) (*Asset, error)
	UpdateMetadata(ctx context.Context, symbol string, patch AssetMetadata) (*Asset, error)
	DeleteBySymbol(ctx context.Context, symbol string) (bool, error)
}

type AssetCache interface {
	GetSnapshot(ctx context.Context, symbol string) (*AssetSnapshot, bool, error)
	Replace(ctx context.Context, asset Asset) error
	Invalidate(ctx context.Context, symbol string) error
}

type MetadataProvider interface {
	ResolveSymbol(ctx context.Context, symbol string) (string, error)
	FetchMetadata(ctx context.Context, providerID string) (AssetMetadata, error)
}

// SymbolLocker serializes mutations of a single symbol across the catalog and
// refresh services.
type SymbolLocker interface {
	Lock(ctx context.Context, symbol string) (unlock func(), err error)
}
