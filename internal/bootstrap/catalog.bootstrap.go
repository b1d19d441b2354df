package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	"github.com/krobus00/crypto-catalog-service/internal/constant"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/krobus00/crypto-catalog-service/internal/infrastructure"
	"github.com/krobus00/crypto-catalog-service/internal/repository"
	"github.com/krobus00/crypto-catalog-service/internal/service/locker"
	"github.com/krobus00/crypto-catalog-service/internal/service/provider"
	"github.com/krobus00/crypto-catalog-service/internal/service/refresh"
	"github.com/krobus00/crypto-catalog-service/internal/service/scheduler"
	"github.com/krobus00/crypto-catalog-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// catalogDeps holds the connections and collaborators shared by every command
// that touches the catalog.
type catalogDeps struct {
	db          *sqlx.DB
	redisClient *redis.Client
	nc          *nats.Conn
	js          nats.JetStreamContext

	assetRepo  *repository.AssetRepository
	assetCache *repository.AssetCacheRepository
	provider   *provider.CoinGeckoProvider
	locker     entity.SymbolLocker
}

func newCatalogDeps(ctx context.Context, withJetstream bool) *catalogDeps {
	dbConfig := config.Env.Database[constant.CatalogDatabase]

	db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
	util.ContinueOrFatal(err)
	infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

	redisClient, err := infrastructure.NewRedisClient(ctx, config.Env.Redis[constant.CacheRedis])
	util.ContinueOrFatal(err)

	symbolLocker, err := newSymbolLocker(config.Env.Refresh, redisClient)
	util.ContinueOrFatal(err)

	deps := &catalogDeps{
		db:          db,
		redisClient: redisClient,
		assetRepo:   repository.NewAssetRepository(db),
		assetCache:  repository.NewAssetCacheRepository(redisClient, config.Env.Cache),
		provider:    provider.NewCoinGeckoProvider(config.Env.Provider.CoinGecko),
		locker:      symbolLocker,
	}

	if !withJetstream {
		return deps
	}

	if strings.TrimSpace(config.Env.NatsJetstream.URL) == "" {
		logrus.Warn("nats_jetstream.url is empty, async refresh is disabled")
		return deps
	}

	deps.nc, deps.js, err = infrastructure.NewJetstream(config.Env.NatsJetstream)
	util.ContinueOrFatal(err)

	return deps
}

func newSymbolLocker(cfg config.RefreshConfig, redisClient *redis.Client) (entity.SymbolLocker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LockDriver)) {
	case "", constant.LockDriverLocal:
		return locker.NewLocalSymbolLocker(), nil
	case constant.LockDriverRedis:
		if redisClient == nil {
			return nil, errors.New("redis lock driver requires a redis client")
		}
		return locker.NewRedisSymbolLocker(redisClient, cfg.LockTTL), nil
	default:
		return nil, fmt.Errorf("unknown lock driver: %s", cfg.LockDriver)
	}
}

func (d *catalogDeps) newRefreshService() *refresh.RefreshService {
	return refresh.NewRefreshService(d.assetRepo, d.assetCache, d.provider, d.locker, d.js, config.Env.Refresh, config.Env.NatsJetstream)
}

// startRefreshConsumers subscribes the async refresh consumer when a broker is
// configured.
func (d *catalogDeps) startRefreshConsumers(ctx context.Context, refreshService *refresh.RefreshService) {
	if d.js == nil {
		return
	}

	subscribers := make([]entity.Subscriber, 0)
	subscribers = append(subscribers, refreshService)
	for _, v := range subscribers {
		err := v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}
}

// startScheduler returns nil when the scheduler is disabled.
func startScheduler(refreshService *refresh.RefreshService) *scheduler.Scheduler {
	if !config.Env.Refresh.SchedulerEnabled {
		logrus.Info("refresh scheduler is disabled")
		return nil
	}

	refreshScheduler, err := scheduler.NewScheduler(refreshService, config.Env.Refresh)
	util.ContinueOrFatal(err)
	refreshScheduler.Start()

	return refreshScheduler
}

func stopScheduler(refreshScheduler *scheduler.Scheduler) operation {
	if refreshScheduler == nil {
		return nil
	}

	return refreshScheduler.Stop
}

func (d *catalogDeps) healthChecks() map[string]infrastructure.HealthCheck {
	return map[string]infrastructure.HealthCheck{
		"catalog database": func(ctx context.Context) error {
			return d.db.PingContext(ctx)
		},
		"cache redis": func(ctx context.Context) error {
			return d.redisClient.Ping(ctx).Err()
		},
	}
}

func (d *catalogDeps) brokerShutdownOps() map[string]operation {
	return map[string]operation{
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(d.nc)
		},
	}
}

func (d *catalogDeps) storageShutdownOps(cancel context.CancelFunc) map[string]operation {
	return map[string]operation{
		"catalog database": func(ctx context.Context) error {
			cancel()
			return d.db.Close()
		},
		"cache redis": func(ctx context.Context) error {
			return d.redisClient.Close()
		},
	}
}
