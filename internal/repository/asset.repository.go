package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/guregu/null/v6"
	perrors "github.com/jmgilman/go/errors"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqIntegrityClass       = "23"
)

var assetColumns = []string{
	"a.id",
	"a.symbol",
	"a.name",
	"a.created_at",
	"a.updated_at",
	"m.asset_id AS metadata_asset_id",
	"m.current_price_usd",
	"m.price_change_percentage_24h",
	"m.total_volume_usd",
	"m.market_cap_usd",
	"m.market_cap_rank",
	"m.provider_id",
	"m.provider_timestamp",
	"m.last_checked_at",
}

type assetRow struct {
	ID                       int64               `db:"id"`
	Symbol                   string              `db:"symbol"`
	Name                     string              `db:"name"`
	CreatedAt                time.Time           `db:"created_at"`
	UpdatedAt                time.Time           `db:"updated_at"`
	MetadataAssetID          null.Int            `db:"metadata_asset_id"`
	CurrentPriceUSD          decimal.NullDecimal `db:"current_price_usd"`
	PriceChangePercentage24h null.Float          `db:"price_change_percentage_24h"`
	TotalVolumeUSD           decimal.NullDecimal `db:"total_volume_usd"`
	MarketCapUSD             decimal.NullDecimal `db:"market_cap_usd"`
	MarketCapRank            null.Int            `db:"market_cap_rank"`
	ProviderID               null.String         `db:"provider_id"`
	ProviderTimestamp        null.Time           `db:"provider_timestamp"`
	LastCheckedAt            null.Time           `db:"last_checked_at"`
}

func (r assetRow) toEntity() entity.Asset {
	asset := entity.Asset{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}

	if r.MetadataAssetID.Valid {
		asset.Metadata = &entity.AssetMetadata{
			AssetID:                  r.MetadataAssetID.Int64,
			CurrentPriceUSD:          r.CurrentPriceUSD,
			PriceChangePercentage24h: r.PriceChangePercentage24h,
			TotalVolumeUSD:           r.TotalVolumeUSD,
			MarketCapUSD:             r.MarketCapUSD,
			MarketCapRank:            r.MarketCapRank,
			ProviderID:               r.ProviderID,
			ProviderTimestamp:        r.ProviderTimestamp,
			LastCheckedAt:            r.LastCheckedAt,
		}
	}

	return asset
}

type AssetRepository struct {
	db *sqlx.DB
}

func NewAssetRepository(db *sqlx.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) ListAll(ctx context.Context, limit int) ([]entity.Asset, error) {
	queryBuilder := selectAssetQuery().OrderBy("a.id asc")
	if limit > 0 {
		queryBuilder = queryBuilder.Limit(uint64(limit))
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []assetRow
	err = r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, mapStoreError(err, "")
	}

	assets := make([]entity.Asset, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, row.toEntity())
	}

	return assets, nil
}

func (r *AssetRepository) GetBySymbol(ctx context.Context, symbol string) (*entity.Asset, error) {
	return getAssetBySymbol(ctx, r.db, symbol, false)
}

func (r *AssetRepository) Insert(ctx context.Context, asset entity.Asset, metadata *entity.AssetMetadata) (*entity.Asset, error) {
	now := storeNow()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = now
	}

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sq.StatementBuilder.
			PlaceholderFormat(sq.Dollar).
			Insert(asset.TableName()).
			Columns("symbol", "name", "created_at", "updated_at").
			Values(asset.Symbol, asset.Name, asset.CreatedAt, asset.UpdatedAt).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, query, args...).Scan(&asset.ID)
		if err != nil {
			return err
		}

		if metadata == nil {
			return nil
		}

		inserted := *metadata
		inserted.AssetID = asset.ID
		err = upsertMetadata(ctx, tx, inserted)
		if err != nil {
			return err
		}

		asset.Metadata = &inserted
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, asset.Symbol)
	}

	return &asset, nil
}

func (r *AssetRepository) UpdateFields(ctx context.Context, symbol string, update entity.AssetUpdate) (*entity.Asset, error) {
	var updated *entity.Asset

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := getAssetBySymbol(ctx, tx, symbol, true)
		if err != nil {
			return err
		}

		if update.IsEmpty() {
			updated = current
			return nil
		}

		if update.Name.Valid {
			current.Name = update.Name.String
		}
		current.UpdatedAt = storeNow()

		query, args, err := sq.StatementBuilder.
			PlaceholderFormat(sq.Dollar).
			Update(current.TableName()).
			Set("name", current.Name).
			Set("updated_at", current.UpdatedAt).
			Where(sq.Eq{"id": current.ID}).
			ToSql()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, symbol)
	}

	return updated, nil
}

// UpdateMetadata merges patch into the stored metadata of symbol. The asset row
// is locked for the duration of the transaction so concurrent merges serialize
// on the freshly read state instead of overwriting each other.
func (r *AssetRepository) UpdateMetadata(ctx context.Context, symbol string, patch entity.AssetMetadata) (*entity.Asset, error) {
	var updated *entity.Asset

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := getAssetBySymbol(ctx, tx, symbol, true)
		if err != nil {
			return err
		}

		merged := entity.AssetMetadata{AssetID: current.ID}
		if current.Metadata != nil {
			merged = *current.Metadata
		}
		merged.Merge(patch)

		err = upsertMetadata(ctx, tx, merged)
		if err != nil {
			return err
		}

		// the aggregate timestamp moves even when only metadata changed
		current.UpdatedAt = storeNow()
		query, args, err := sq.StatementBuilder.
			PlaceholderFormat(sq.Dollar).
			Update(current.TableName()).
			Set("updated_at", current.UpdatedAt).
			Where(sq.Eq{"id": current.ID}).
			ToSql()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}

		current.Metadata = &merged
		updated = current
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, symbol)
	}

	return updated, nil
}

func (r *AssetRepository) DeleteBySymbol(ctx context.Context, symbol string) (bool, error) {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete(entity.Asset{}.TableName()).
		Where(sq.Eq{"symbol": symbol}).
		ToSql()
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, mapStoreError(err, symbol)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, mapStoreError(err, symbol)
	}

	return affected > 0, nil
}

func (r *AssetRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logrus.WithError(rbErr).Error("failed to rollback transaction")
		}
		return err
	}

	return tx.Commit()
}

func selectAssetQuery() sq.SelectBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(assetColumns...).
		From("assets a").
		LeftJoin("asset_metadata m ON m.asset_id = a.id")
}

func getAssetBySymbol(ctx context.Context, q sqlx.QueryerContext, symbol string, forUpdate bool) (*entity.Asset, error) {
	queryBuilder := selectAssetQuery().Where(sq.Eq{"a.symbol": symbol})
	if forUpdate {
		// the metadata side of the join is nullable and cannot be locked
		queryBuilder = queryBuilder.Suffix("FOR UPDATE OF a")
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var row assetRow
	err = sqlx.GetContext(ctx, q, &row, query, args...)
	if err != nil {
		return nil, mapStoreError(err, symbol)
	}

	asset := row.toEntity()
	return &asset, nil
}

func upsertMetadata(ctx context.Context, tx *sqlx.Tx, metadata entity.AssetMetadata) error {
	query, args, err := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(metadata.TableName()).
		Columns(
			"asset_id",
			"current_price_usd",
			"price_change_percentage_24h",
			"total_volume_usd",
			"market_cap_usd",
			"market_cap_rank",
			"provider_id",
			"provider_timestamp",
			"last_checked_at",
		).
		Values(
			metadata.AssetID,
			metadata.CurrentPriceUSD,
			metadata.PriceChangePercentage24h,
			metadata.TotalVolumeUSD,
			metadata.MarketCapUSD,
			metadata.MarketCapRank,
			metadata.ProviderID,
			metadata.ProviderTimestamp,
			metadata.LastCheckedAt,
		).
		Suffix(`ON CONFLICT (asset_id)
DO UPDATE SET
	current_price_usd = EXCLUDED.current_price_usd,
	price_change_percentage_24h = EXCLUDED.price_change_percentage_24h,
	total_volume_usd = EXCLUDED.total_volume_usd,
	market_cap_usd = EXCLUDED.market_cap_usd,
	market_cap_rank = EXCLUDED.market_cap_rank,
	provider_id = EXCLUDED.provider_id,
	provider_timestamp = EXCLUDED.provider_timestamp,
	last_checked_at = EXCLUDED.last_checked_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// storeNow matches the microsecond precision of postgres timestamptz so that
// values returned to callers equal what a later read returns.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func mapStoreError(err error, symbol string) error {
	if err == nil {
		return nil
	}

	var platformErr perrors.PlatformError
	if errors.As(err, &platformErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return entity.WrapSymbol(entity.ErrNotFound, symbol, "asset not found")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation:
			return entity.WrapSymbol(entity.ErrAlreadyExists, symbol, "asset already exists")
		case pqErr.Code == pqSerializationFailure, pqErr.Code == pqDeadlockDetected, pqErr.Code.Class() == pqIntegrityClass:
			return perrors.WrapWithContext(entity.ErrStoreConflict, entity.ErrStoreConflict.Code(), pqErr.Message, map[string]interface{}{
				"symbol":  symbol,
				"pq_code": string(pqErr.Code),
			})
		}
	}

	return perrors.WrapWithContext(err, perrors.CodeDatabase, "record store operation failed", map[string]interface{}{
		"symbol": symbol,
	})
}
