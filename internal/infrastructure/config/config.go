package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Logging      LogConfig
	RateLimit    RateLimitConfig
	Completion   CompletionConfig
	VectorSearch VectorSearchConfig
	Breaker      BreakerConfig
	Retry        RetryConfig
	Cache        CacheConfig
	Redis        RedisConfig
	Jobs         JobsConfig
	Router       RouterConfig
	Shadow       ShadowConfig

	// PolicyFile optionally overrides breaker and retry settings per dependency.
	PolicyFile   string                      `envconfig:"DEPENDENCY_POLICY_FILE"`
	Dependencies map[string]DependencyPolicy `ignored:"true"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	GlobalRPS         int  `envconfig:"RATE_LIMIT_GLOBAL_RPS" default:"500"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CompletionConfig holds language-model service settings.
type CompletionConfig struct {
	APIKey         string  `envconfig:"OPENAI_API_KEY"`
	BaseURL        string  `envconfig:"COMPLETION_BASE_URL"`
	PrimaryModel   string  `envconfig:"COMPLETION_PRIMARY_MODEL" default:"gpt-4o"`
	SecondaryModel string  `envconfig:"COMPLETION_SECONDARY_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel string  `envconfig:"COMPLETION_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	MaxTokens      int     `envconfig:"COMPLETION_MAX_TOKENS" default:"1024"`
	Temperature    float32 `envconfig:"COMPLETION_TEMPERATURE" default:"0.2"`
}

// VectorSearchConfig holds similarity search settings.
type VectorSearchConfig struct {
	Enabled bool   `envconfig:"VECTOR_SEARCH_ENABLED" default:"false"`
	Host    string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	Scheme  string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	Class   string `envconfig:"WEAVIATE_CLASS" default:"StyleExample"`
	Limit   int    `envconfig:"VECTOR_SEARCH_LIMIT" default:"3"`
}

// BreakerConfig holds circuit breaker defaults per dependency.
type BreakerConfig struct {
	Threshold       uint32        `envconfig:"BREAKER_THRESHOLD" default:"5"`
	Timeout         time.Duration `envconfig:"BREAKER_TIMEOUT" default:"60s"`
	VectorThreshold uint32        `envconfig:"VECTOR_BREAKER_THRESHOLD" default:"3"`
	VectorTimeout   time.Duration `envconfig:"VECTOR_BREAKER_TIMEOUT" default:"30s"`
}

// RetryConfig holds retry defaults.
type RetryConfig struct {
	MaxRetries  int           `envconfig:"RETRY_MAX" default:"3"`
	BackoffBase time.Duration `envconfig:"RETRY_BACKOFF_BASE" default:"1s"`
}

// CacheConfig holds in-process cache settings.
type CacheConfig struct {
	MaxEntries int           `envconfig:"CACHE_MAX_SIZE" default:"1000"`
	DefaultTTL time.Duration `envconfig:"CACHE_TTL_DEFAULT" default:"10m"`
	ShortTTL   time.Duration `envconfig:"CACHE_TTL_SHORT" default:"1m"`
	LongTTL    time.Duration `envconfig:"CACHE_TTL_LONG" default:"1h"`

	// PurgeInterval is how often expired local entries are dropped.
	PurgeInterval time.Duration `envconfig:"CACHE_PURGE_INTERVAL" default:"1m"`
}

// RedisConfig holds the optional shared cache settings. An empty URL
// disables the shared tier.
type RedisConfig struct {
	URL               string `envconfig:"REDIS_URL"`
	Prefix            string `envconfig:"REDIS_PREFIX" default:"docrefine"`
	CompressThreshold int    `envconfig:"REDIS_COMPRESS_THRESHOLD" default:"4096"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	PurgeTTL      time.Duration `envconfig:"JOB_PURGE_TTL" default:"1h"`
	SweepInterval time.Duration `envconfig:"JOB_SWEEP_INTERVAL" default:"5m"`
	Workers       int           `envconfig:"JOB_WORKERS" default:"4"`
	QueueSize     int           `envconfig:"JOB_QUEUE_SIZE" default:"64"`
	Timeout       time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
}

// RouterConfig holds request routing settings.
type RouterConfig struct {
	InlineTimeout       time.Duration `envconfig:"INLINE_TIMEOUT" default:"30s"`
	CodeVersion         string        `envconfig:"CODE_VERSION" default:"v1"`
	AsyncThresholdBytes int           `envconfig:"ASYNC_THRESHOLD_BYTES" default:"8000"`
	MaxContentBytes     int           `envconfig:"MAX_CONTENT_BYTES" default:"1000000"`
	ChunkBytes          int           `envconfig:"DOCUMENT_CHUNK_BYTES" default:"4000"`
}

// ShadowConfig holds shadow execution settings.
type ShadowConfig struct {
	SampleRate   float64       `envconfig:"SHADOW_SAMPLE_RATE" default:"0"`
	Concurrency  int           `envconfig:"SHADOW_CONCURRENCY" default:"4"`
	Timeout      time.Duration `envconfig:"SHADOW_TIMEOUT" default:"30s"`
	CollectorURL string        `envconfig:"SHADOW_COLLECTOR_URL"`
}

// Load loads configuration from environment variables and the optional
// dependency policy file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.PolicyFile != "" {
		deps, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Dependencies = deps
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Shadow.SampleRate < 0 || c.Shadow.SampleRate > 1 {
		return fmt.Errorf("SHADOW_SAMPLE_RATE must be within [0, 1], got %v", c.Shadow.SampleRate)
	}
	if c.Router.InlineTimeout <= 0 {
		return fmt.Errorf("INLINE_TIMEOUT must be positive")
	}
	if c.Router.AsyncThresholdBytes > c.Router.MaxContentBytes {
		return fmt.Errorf("ASYNC_THRESHOLD_BYTES exceeds MAX_CONTENT_BYTES")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			GlobalRPS:         500,
			Enabled:           true,
		},
		Completion: CompletionConfig{
			PrimaryModel:   "gpt-4o",
			SecondaryModel: "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			MaxTokens:      1024,
			Temperature:    0.2,
		},
		VectorSearch: VectorSearchConfig{
			Host:   "localhost:8080",
			Scheme: "http",
			Class:  "StyleExample",
			Limit:  3,
		},
		Breaker: BreakerConfig{
			Threshold:       5,
			Timeout:         60 * time.Second,
			VectorThreshold: 3,
			VectorTimeout:   30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			DefaultTTL: 10 * time.Minute,
			ShortTTL:   time.Minute,
			LongTTL:    time.Hour,

			PurgeInterval: time.Minute,
		},
		Redis: RedisConfig{
			Prefix:            "docrefine",
			CompressThreshold: 4096,
		},
		Jobs: JobsConfig{
			PurgeTTL:      time.Hour,
			SweepInterval: 5 * time.Minute,
			Workers:       4,
			QueueSize:     64,
			Timeout:       10 * time.Minute,
		},
		Router: RouterConfig{
			InlineTimeout:       30 * time.Second,
			CodeVersion:         "v1",
			AsyncThresholdBytes: 8000,
			MaxContentBytes:     1000000,
			ChunkBytes:          4000,
		},
		Shadow: ShadowConfig{
			Concurrency: 4,
			Timeout:     30 * time.Second,
		},
	}
}
