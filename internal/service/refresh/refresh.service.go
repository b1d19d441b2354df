package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/constant"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency    = 4
	cacheReconcileTimeout = 5 * time.Second
)

// RefreshService pulls fresh metadata from the provider into the record store
// and keeps the cache in step with every committed change.
type RefreshService struct {
	assetRepo     entity.AssetRepository
	assetCache    entity.AssetCache
	provider      entity.MetadataProvider
	locker        entity.SymbolLocker
	js            nats.JetStreamContext
	concurrency   int
	manualTimeout time.Duration
	eventTimeout  time.Duration
	maxRetries    int

	manualRunning atomic.Bool
}

func NewRefreshService(assetRepo entity.AssetRepository, assetCache entity.AssetCache, provider entity.MetadataProvider, locker entity.SymbolLocker, js nats.JetStreamContext, cfg config.RefreshConfig, eventCfg config.NatsJetstreamConfig) *RefreshService {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	eventTimeout := eventCfg.TimeoutHandler[constant.AssetRefreshTimeoutHandler]
	if eventTimeout <= 0 {
		eventTimeout = defaultEventTimeout
	}

	maxRetries := eventCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultEventMaxRetries
	}

	return &RefreshService{
		assetRepo:     assetRepo,
		assetCache:    assetCache,
		provider:      provider,
		locker:        locker,
		js:            js,
		concurrency:   concurrency,
		manualTimeout: cfg.ManualTimeout,
		eventTimeout:  eventTimeout,
		maxRetries:    maxRetries,
	}
}

func (s *RefreshService) RefreshOne(ctx context.Context, symbol string) (*entity.Asset, error) {
	symbol = entity.NormalizeSymbol(symbol)

	asset, err := s.assetRepo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return s.refreshAsset(ctx, *asset)
}

// refreshAsset talks to the provider without holding the symbol lock. Only the
// commit and the cache reconciliation run under it, so a concurrent writer can
// never leave the cache behind the store.
func (s *RefreshService) refreshAsset(ctx context.Context, asset entity.Asset) (*entity.Asset, error) {
	logger := logrus.WithField("symbol", asset.Symbol)

	providerID := asset.ProviderID()
	if providerID == "" {
		resolved, err := s.provider.ResolveSymbol(ctx, asset.Symbol)
		if err != nil {
			return nil, err
		}
		providerID = resolved
	}
	logger = logger.WithField("provider_id", providerID)

	patch, err := s.provider.FetchMetadata(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !patch.ProviderID.Valid {
		patch.ProviderID.SetValid(providerID)
	}

	unlock, err := s.locker.Lock(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := s.assetRepo.UpdateMetadata(ctx, asset.Symbol, patch)
	if err != nil {
		return nil, err
	}

	reconcileCached(ctx, s.assetCache, *updated)

	logger.Debug("asset refreshed")

	return updated, nil
}

// RefreshAll refreshes every asset in the store. One asset failing never stops
// the others. An error is returned only when the asset list cannot be read,
// when ctx ends before the batch completes, or when every asset failed. The
// report is returned in all cases except a failed listing.
func (s *RefreshService) RefreshAll(ctx context.Context, trigger entity.RefreshTrigger) (*entity.RefreshReport, error) {
	report := &entity.RefreshReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Failed:    []entity.RefreshFailure{},
		StartedAt: time.Now().UTC(),
	}

	logger := logrus.WithFields(logrus.Fields{
		"run_id":  report.RunID,
		"trigger": trigger,
	})

	assets, err := s.assetRepo.ListAll(ctx, 0)
	if err != nil {
		logger.WithError(err).Error("failed to list assets for refresh")
		return nil, err
	}

	report.Total = len(assets)
	logger.WithField("total", report.Total).Info("refresh started")

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(s.concurrency)

	for i, asset := range assets {
		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped += len(assets) - i
			mu.Unlock()
			break
		}

		eg.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			_, err := s.refreshAsset(ctx, asset)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				report.Refreshed++
			case errors.Is(err, entity.ErrNotFound), ctx.Err() != nil:
				// deleted after listing, or the run was cancelled
				report.Skipped++
			default:
				report.Failed = append(report.Failed, entity.RefreshFailure{
					Symbol: asset.Symbol,
					Reason: err.Error(),
				})
				logger.WithError(err).WithField("symbol", asset.Symbol).Error("failed to refresh asset")
			}

			return nil
		})
	}

	_ = eg.Wait()
	report.FinishedAt = time.Now().UTC()

	logger.WithFields(logrus.Fields{
		"total":     report.Total,
		"refreshed": report.Refreshed,
		"skipped":   report.Skipped,
		"failed":    report.FailedCount(),
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("refresh finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Total > 0 && report.FailedCount() == report.Total {
		return report, perrors.WrapWithContext(entity.ErrRefreshBatchFailed, entity.ErrRefreshBatchFailed.Code(),
			fmt.Sprintf("all %d assets failed to refresh", report.Total),
			map[string]interface{}{"run_id": report.RunID})
	}

	return report, nil
}

// TriggerRefreshAll runs a manual refresh of every asset. Only one manual run
// may be in flight; it can overlap a scheduled run.
func (s *RefreshService) TriggerRefreshAll(ctx context.Context) (*entity.RefreshReport, error) {
	if !s.manualRunning.CompareAndSwap(false, true) {
		return nil, entity.ErrRefreshInProgress
	}
	defer s.manualRunning.Store(false)

	if s.manualTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.manualTimeout)
		defer cancel()
	}

	return s.RefreshAll(ctx, entity.RefreshTriggerManual)
}

// reconcileCached replaces the cached snapshot after a commit. It outlives the
// cancellation of ctx. When the replace fails the entry is invalidated so the
// next read goes to the store.
func reconcileCached(ctx context.Context, cache entity.AssetCache, asset entity.Asset) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheReconcileTimeout)
	defer cancel()

	logger := logrus.WithField("symbol", asset.Symbol)

	err := cache.Replace(ctx, asset)
	if err == nil {
		return
	}
	logger.WithError(err).Warn("failed to replace cached asset, invalidating")

	err = cache.Invalidate(ctx, asset.Symbol)
	if err != nil {
		logger.WithError(err).Error("failed to invalidate cached asset")
	}
}
