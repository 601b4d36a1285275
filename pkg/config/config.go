// Package config loads the index engine configuration from YAML files with
// environment-variable overrides. Every subsystem (server, storage, indexer,
// search, kafka, redis, logging, metrics) has its own typed section.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentChanges string `yaml:"documentChanges"`
	IndexUpdates    string `yaml:"indexUpdates"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// StorageConfig selects the durable record store holding raw documents and
// intermediate map/reduce rows.
type StorageConfig struct {
	Engine   string `yaml:"engine"`
	BoltPath string `yaml:"boltPath"`
}

// IndexerConfig controls the per-index write sessions, snapshot lifecycle and
// the background flush/reduce/merge loops.
type IndexerConfig struct {
	DataDir                string        `yaml:"dataDir"`
	RunInMemory            bool          `yaml:"runInMemory"`
	TempIndexMaxBytes      int64         `yaml:"tempIndexMaxBytes"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	ReduceInterval         time.Duration `yaml:"reduceInterval"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	DisposeTimeout         time.Duration `yaml:"disposeTimeout"`
	MaxErrors              int           `yaml:"maxErrors"`
	QueryPlanCacheSize     int           `yaml:"queryPlanCacheSize"`
}

// SearchConfig controls query paging limits.
type SearchConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory", "bolt", "postgres":
	default:
		return fmt.Errorf("unsupported storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "bolt" && c.Storage.BoltPath == "" {
		return fmt.Errorf("storage.boltPath is required for the bolt engine")
	}
	if !c.Indexer.RunInMemory && c.Indexer.DataDir == "" {
		return fmt.Errorf("indexer.dataDir is required unless indexer.runInMemory is set")
	}
	if c.Search.MaxPageSize <= 0 || c.Search.DefaultPageSize <= 0 {
		return fmt.Errorf("search page sizes must be positive")
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.defaultPageSize %d exceeds search.maxPageSize %d",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docindex",
			User:            "docindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docindex-group",
			Topics: KafkaTopics{
				DocumentChanges: "document-changes",
				IndexUpdates:    "index-updates",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Storage: StorageConfig{
			Engine:   "bolt",
			BoltPath: "data/records.bolt",
		},
		Indexer: IndexerConfig{
			DataDir:                "data/indexes",
			TempIndexMaxBytes:      25 * 1024 * 1024,
			FlushInterval:          30 * time.Second,
			ReduceInterval:         5 * time.Second,
			MergeInterval:          5 * time.Minute,
			MaxSegmentsBeforeMerge: 10,
			DisposeTimeout:         5 * time.Second,
			MaxErrors:              50,
			QueryPlanCacheSize:     512,
		},
		Search: SearchConfig{
			DefaultPageSize: 128,
			MaxPageSize:     1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DIE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DIE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DIE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DIE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DIE_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DIE_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DIE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DIE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("DIE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("DIE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DIE_STORAGE_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("DIE_STORAGE_BOLT_PATH"); v != "" {
		cfg.Storage.BoltPath = v
	}
	if v := os.Getenv("DIE_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("DIE_INDEXER_RUN_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Indexer.RunInMemory = b
		}
	}
	if v := os.Getenv("DIE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DIE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
