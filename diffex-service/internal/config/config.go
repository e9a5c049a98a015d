package config

import (
	"time"

	"github.com/weiawesome/diffex/diffex-service/internal/batch"
	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/handler"
	pkgconfig "github.com/weiawesome/diffex/pkg/config"
	"github.com/weiawesome/diffex/pkg/database"
	"github.com/weiawesome/diffex/pkg/pubsub"
	"github.com/weiawesome/diffex/pkg/storage"
)

const envPrefix = "DIFFEX"

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       cache.RedisConfig
	Cache       CacheConfig
	Batch       BatchConfig
	Aggregation AggregationConfig
	TopHits     handler.TopHitsDefaults `mapstructure:"top_hits"`
	PubSub      PubSubConfig            `mapstructure:"pubsub"`
	Snapshot    SnapshotConfig
	Metrics     MetricsConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// ToDatabase converts to the shared database configuration.
func (c DatabaseConfig) ToDatabase() *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogLevel:        c.LogLevel,
	}
}

type CacheConfig struct {
	Driver          string // memory, redis
	Prefix          string
	Capacity        int
	TopHitsCapacity int `mapstructure:"top_hits_capacity"`
	TTL             time.Duration
	Enabled         bool
}

type BatchConfig struct {
	ResultSetBatchSize int `mapstructure:"result_set_batch_size"`
	GeneBatchSize      int `mapstructure:"gene_batch_size"`
	Concurrency        int
}

// Limits returns the planner ceilings.
func (c BatchConfig) Limits() batch.Limits {
	return batch.Limits{
		ResultSetBatchSize: c.ResultSetBatchSize,
		GeneBatchSize:      c.GeneBatchSize,
	}
}

type AggregationConfig struct {
	FillNonSignificant     bool    `mapstructure:"fill_non_significant"`
	DiffExpressedThreshold float64 `mapstructure:"diff_expressed_threshold"`
}

type PubSubConfig struct {
	Enabled       bool
	pubsub.Config `mapstructure:",squash"`
}

type SnapshotConfig struct {
	Enabled        bool
	Key            string
	LoadOnStart    bool `mapstructure:"load_on_start"`
	SaveOnShutdown bool `mapstructure:"save_on_shutdown"`
	storage.Config `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads config.yaml from configPath (and ./config), applies defaults
// and DIFFEX_ prefixed environment overrides.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config", envPrefix)
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "diffex")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/diffex.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.prefix", "diffex")
	v.SetDefault("cache.capacity", 500000)
	v.SetDefault("cache.top_hits_capacity", 10000)
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("batch.result_set_batch_size", batch.DefaultResultSetBatchSize)
	v.SetDefault("batch.gene_batch_size", batch.DefaultGeneBatchSize)
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("aggregation.fill_non_significant", false)
	v.SetDefault("aggregation.diff_expressed_threshold", 0.05)
	v.SetDefault("top_hits.threshold", 0.001)
	v.SetDefault("top_hits.limit", 100)
	v.SetDefault("top_hits.min_results", 10)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "diffex-invalidation")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.key", "snapshots/result-cache.json")
	v.SetDefault("snapshot.load_on_start", true)
	v.SetDefault("snapshot.save_on_shutdown", true)
	v.SetDefault("snapshot.driver", "local")
	v.SetDefault("snapshot.local.base_path", "./data")
	v.SetDefault("snapshot.s3.region", "us-east-1")
	v.SetDefault("snapshot.s3.bucket", "")
	v.SetDefault("snapshot.s3.endpoint", "")
	v.SetDefault("snapshot.s3.access_key_id", "")
	v.SetDefault("snapshot.s3.secret_access_key", "")
	v.SetDefault("snapshot.s3.use_path_style", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
