package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "crypto-catalog-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	AppName                 string                    `mapstructure:"app_name"`
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Provider                ProviderConfig            `mapstructure:"provider"`
	Cache                   CacheConfig               `mapstructure:"cache"`
	Refresh                 RefreshConfig             `mapstructure:"refresh"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

type ProviderConfig struct {
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
}

type CoinGeckoConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type CacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RefreshConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Concurrency      int           `mapstructure:"concurrency"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	LockDriver       string        `mapstructure:"lock_driver"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	ManualTimeout    time.Duration `mapstructure:"manual_timeout"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("app_name", "Crypto Catalog API")
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 30*time.Second)
	viper.SetDefault("port.http", "8080")
	viper.SetDefault("port.grpc", "9090")
	viper.SetDefault("nats_jetstream.max_retries", 5)
	viper.SetDefault("nats_jetstream.timeout_handler.refresh_asset", 10*time.Minute)
	viper.SetDefault("provider.coingecko.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("provider.coingecko.timeout", 10*time.Second)
	viper.SetDefault("provider.coingecko.requests_per_minute", 30)
	viper.SetDefault("cache.ttl", time.Hour)
	viper.SetDefault("refresh.interval", 10*time.Minute)
	viper.SetDefault("refresh.concurrency", 4)
	viper.SetDefault("refresh.scheduler_enabled", true)
	viper.SetDefault("refresh.lock_driver", "local")
	viper.SetDefault("refresh.lock_ttl", 30*time.Second)
	viper.SetDefault("refresh.manual_timeout", 10*time.Minute)
}
