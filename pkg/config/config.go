// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, Harness, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Postgres  PostgresConfig     `yaml:"postgres"`
	Kafka     KafkaConfig        `yaml:"kafka"`
	Redis     RedisConfig        `yaml:"redis"`
	Indexer   IndexerConfig      `yaml:"indexer"`
	Search    SearchConfig       `yaml:"search"`
	Highlight HighlightConfig    `yaml:"highlight"`
	Cache     CacheConfig        `yaml:"cache"`
	Harness   HarnessConfig      `yaml:"harness"`
	Schema    []schema.FieldSpec `yaml:"schema"`
	Logging   LoggingConfig      `yaml:"logging"`
	Metrics   MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is requests per client per RateWindow; zero disables it.
	RateLimit       int           `yaml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables the Postgres result sink.
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

// KafkaConfig holds Kafka broker and topic settings. No brokers disables
// the Kafka sink and search analytics.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RunResults      string `yaml:"runResults"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the remote cache tier.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls index building, snapshot persistence and analysis.
type IndexerConfig struct {
	DataDir        string        `yaml:"dataDir"`
	SnapshotName   string        `yaml:"snapshotName"`
	Lenient        bool          `yaml:"lenient"`
	LoadOnStart    bool          `yaml:"loadOnStart"`
	PersistOnBuild bool          `yaml:"persistOnBuild"`
	WatchDebounce  time.Duration `yaml:"watchDebounce"`
	StopWords      []string      `yaml:"stopWords"`
	MinTokenLength int           `yaml:"minTokenLength"`
	Language       string        `yaml:"language"`
}

// SchemaOptions converts analysis settings into schema options.
func (c IndexerConfig) SchemaOptions() schema.Options {
	return schema.Options{
		StopWords: c.StopWords,
		MinLength: c.MinTokenLength,
		Language:  c.Language,
	}
}

// SearchConfig controls ranking parameters, query limits and timeouts.
type SearchConfig struct {
	Fields               []string      `yaml:"fields"`
	K1                   float64       `yaml:"k1"`
	B                    float64       `yaml:"b"`
	CombinationWeight    float64       `yaml:"combinationWeight"`
	DefaultLimit         int           `yaml:"defaultLimit"`
	MaxResults           int           `yaml:"maxResults"`
	QueryTimeout         time.Duration `yaml:"queryTimeout"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
}

// HighlightConfig controls snippet extraction.
type HighlightConfig struct {
	FragmentChars int    `yaml:"fragmentChars"`
	PreTag        string `yaml:"preTag"`
	PostTag       string `yaml:"postTag"`
	Ellipsis      string `yaml:"ellipsis"`
}

// CacheConfig controls the in-process query cache tier.
type CacheConfig struct {
	Enabled   bool `yaml:"enabled"`
	LocalSize int  `yaml:"localSize"`
}

// HarnessConfig describes the CSV-driven evaluation run.
type HarnessConfig struct {
	CorpusPath    string   `yaml:"corpusPath"`
	QueriesPath   string   `yaml:"queriesPath"`
	OutputPath    string   `yaml:"outputPath"`
	TopK          int      `yaml:"topK"`
	IDColumn      string   `yaml:"idColumn"`
	QueryIDColumn string   `yaml:"queryIdColumn"`
	QueryColumn   string   `yaml:"queryColumn"`
	OutputColumns []string `yaml:"outputColumns"`
	Concurrency   int      `yaml:"concurrency"`
	FailFast      bool     `yaml:"failFast"`
	Sinks         []string `yaml:"sinks"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Search.CombinationWeight < 0 || c.Search.CombinationWeight > 1 {
		return fmt.Errorf("search.combinationWeight must be in [0,1], got %v", c.Search.CombinationWeight)
	}
	if c.Search.K1 < 0 || c.Search.B < 0 || c.Search.B > 1 {
		return fmt.Errorf("search.k1 must be >= 0 and search.b in [0,1], got k1=%v b=%v", c.Search.K1, c.Search.B)
	}
	if len(c.Schema) == 0 {
		return fmt.Errorf("schema must declare at least one field")
	}
	if c.Search.MaxResults > 0 && c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit %d exceeds search.maxResults %d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with defaults suited to local evaluation
// runs.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "relevance",
			User:            "relevance",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "relevance-analytics",
			Topics: KafkaTopics{
				RunResults:      "run-results",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:        "data/index",
			SnapshotName:   "index.rhix",
			WatchDebounce:  250 * time.Millisecond,
			MinTokenLength: 2,
			Language:       "english",
		},
		Search: SearchConfig{
			Fields:               []string{"title", "text", "keywords"},
			K1:                   1.2,
			B:                    0.75,
			CombinationWeight:    0.9,
			DefaultLimit:         10,
			MaxResults:           100,
			QueryTimeout:         2 * time.Second,
			MaxConcurrentQueries: 8,
		},
		Highlight: HighlightConfig{
			FragmentChars: 160,
			PreTag:        "<b>",
			PostTag:       "</b>",
			Ellipsis:      "...",
		},
		Cache: CacheConfig{
			Enabled:   true,
			LocalSize: 4096,
		},
		Harness: HarnessConfig{
			CorpusPath:    "files/corpus.jsonl",
			QueriesPath:   "files/test_queries.csv",
			OutputPath:    "output.csv",
			TopK:          100,
			IDColumn:      "id",
			QueryIDColumn: "QueryId",
			QueryColumn:   "Query",
			OutputColumns: []string{"QueryId", "EntityId"},
			Concurrency:   4,
			Sinks:         []string{"csv"},
		},
		Schema: schema.Default(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("SP_SEARCH_COMBINATION_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.CombinationWeight = w
		}
	}
	if v := os.Getenv("SP_SEARCH_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.QueryTimeout = d
		}
	}
	if v := os.Getenv("SP_HARNESS_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Harness.TopK = k
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
