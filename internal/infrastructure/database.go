package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/crypto-catalog-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultMinJitter      = 100 * time.Millisecond
	defaultMaxJitter      = 1 * time.Second
	defaultMaxIdleConns   = 10
	defaultMaxOpenConns   = 50
	defaultConnLifetime   = 1 * time.Hour
)

type poolOptions struct {
	maxIdleConns    int
	maxOpenConns    int
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
}

func resolvePoolOptions(cfg config.DatabaseConfig) poolOptions {
	opts := poolOptions{
		maxIdleConns:    cfg.MaxIdleConns,
		maxOpenConns:    cfg.MaxActiveConns,
		maxConnLifetime: cfg.MaxConnLifetime,
		maxConnIdleTime: cfg.PingInterval,
	}
	if opts.maxIdleConns <= 0 {
		opts.maxIdleConns = defaultMaxIdleConns
	}
	if opts.maxOpenConns <= 0 {
		opts.maxOpenConns = defaultMaxOpenConns
	}
	if opts.maxConnLifetime <= 0 {
		opts.maxConnLifetime = defaultConnLifetime
	}

	return opts
}

// NewPostgresConnection connects to postgres, retrying with exponential backoff
// until cfg.MaxRetry attempts are exhausted or ctx is done.
func NewPostgresConnection(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("database dsn is required")
	}

	connectTimeout := cfg.PingInterval
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	maxRetry := max(cfg.MaxRetry, 0)
	policy := newBackoffPolicy(cfg.ReconnectFactor, cfg.MinJitter, cfg.MaxJitter, defaultMinJitter, defaultMaxJitter)
	pool := resolvePoolOptions(cfg)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error

	for attempt := 0; attempt <= maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		db, err := sqlx.ConnectContext(attemptCtx, "postgres", cfg.DSN)
		cancel()
		if err == nil {
			db.SetMaxIdleConns(pool.maxIdleConns)
			db.SetMaxOpenConns(pool.maxOpenConns)
			db.SetConnMaxLifetime(pool.maxConnLifetime)
			if pool.maxConnIdleTime > 0 {
				db.SetConnMaxIdleTime(pool.maxConnIdleTime)
			}

			logrus.WithFields(logrus.Fields{
				"max_retry":         maxRetry,
				"max_idle_conns":    pool.maxIdleConns,
				"max_active_conns":  pool.maxOpenConns,
				"max_conn_lifetime": pool.maxConnLifetime,
			}).Info("postgres connection established")

			return db, nil
		}

		lastErr = err
		if attempt == maxRetry {
			break
		}

		waitDuration := policy.delay(attempt, rng)
		logrus.WithFields(logrus.Fields{
			"attempt":      attempt + 1,
			"max_retry":    maxRetry,
			"retry_in":     waitDuration.String(),
			"postgres_dsn": maskDSN(cfg.DSN),
		}).Warnf("postgres connection failed: %v", err)

		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("connect postgres after %d attempts: %w", maxRetry+1, lastErr)
}

func StartPostgresHealthCheck(ctx context.Context, db *sqlx.DB, interval time.Duration) {
	if db == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, interval)
				err := db.PingContext(pingCtx)
				cancel()
				if err != nil {
					logrus.Errorf("postgres health check failed: %v", err)
				}
			}
		}
	}()
}

func maskDSN(dsn string) string {
	idx := strings.LastIndex(dsn, "@")
	if idx == -1 {
		return dsn
	}

	prefix := dsn[:idx]
	credsIdx := strings.LastIndex(prefix, "://")
	if credsIdx == -1 {
		return "***" + dsn[idx:]
	}

	return prefix[:credsIdx+3] + "***" + dsn[idx:]
}
