package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bookflow  BookflowConfig  `yaml:"bookflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Source    SourceConfig    `yaml:"source"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer  int `yaml:"raw_buffer"`
	BookBuffer int `yaml:"book_buffer"`
}

type ReaderConfig struct {
	Timeout        time.Duration   `yaml:"timeout"`
	ReconnectDelay time.Duration   `yaml:"reconnect_delay"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// ProcessorConfig controls the book keeper. EmitInterval throttles batch
// emission per book; zero emits after every applied event. PendingLimit
// bounds the deltas buffered for a book still waiting for its snapshot.
type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	EmitInterval time.Duration `yaml:"emit_interval"`
	PendingLimit int           `yaml:"pending_limit"`
}

type WriterConfig struct {
	MaxWorkers   int                `yaml:"max_workers"`
	Buffer       BufferConfig       `yaml:"buffer"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type BufferConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type PartitioningConfig struct {
	TimeFormat     string   `yaml:"time_format"`
	AdditionalKeys []string `yaml:"additional_keys"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type SourceConfig struct {
	Binance  ExchangeConfig `yaml:"binance"`
	Bybit    ExchangeConfig `yaml:"bybit"`
	Okx      ExchangeConfig `yaml:"okx"`
	Bitfinex ExchangeConfig `yaml:"bitfinex"`
}

// ExchangeConfig describes one order book feed.
//
// Limit is the number of levels requested from the venue, Depth the number
// of levels each maintained book is trimmed to (0 keeps all). Precisions is
// only used by Bitfinex: P0..P4 maintain counted books, R0 a raw book of individual orders.
type ExchangeConfig struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url"`
	SnapshotURL string   `yaml:"snapshot_url"`
	Market      string   `yaml:"market"`
	IntervalMs  int      `yaml:"interval_ms"`
	Limit       int      `yaml:"limit"`
	Depth       int      `yaml:"depth"`
	Symbols     []string `yaml:"symbols"`
	Precisions  []string `yaml:"precisions"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig enables the latest-book cache. TTL expires the keys of books
// that stop updating; zero keeps them.
type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	MaxRetries int           `yaml:"max_retries"`
	TLSEnabled bool          `yaml:"tls_enabled"`
	KeyPrefix  string        `yaml:"key_prefix"`
	TTL        time.Duration `yaml:"ttl"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	ManifestDir     string `yaml:"manifest_dir"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level          string           `yaml:"level"`
	Format         string           `yaml:"format"`
	Output         string           `yaml:"output"`
	MaxAge         int              `yaml:"max_age"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

func defaultConfig() Config {
	return Config{
		Channels: ChannelsConfig{
			RawBuffer:  10000,
			BookBuffer: 1000,
		},
		Reader: ReaderConfig{
			Timeout:        10 * time.Second,
			ReconnectDelay: 5 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				BurstSize:         5,
			},
		},
		Processor: ProcessorConfig{
			MaxWorkers:   4,
			EmitInterval: time.Second,
			PendingLimit: 1000,
		},
		Writer: WriterConfig{
			MaxWorkers: 2,
			Buffer:     BufferConfig{FlushInterval: time.Minute},
			Partitioning: PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}/hour={hour}",
				AdditionalKeys: []string{"exchange", "variant", "symbol"},
			},
			Formats: FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
		},
		Storage: StorageConfig{
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "book",
				TTL:       time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Storage.Redis.Enabled {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			config.Storage.Redis.Addr = strings.TrimSpace(v)
		}
		if v := os.Getenv("REDIS_PASSWORD"); v != "" {
			config.Storage.Redis.Password = v
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}
	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.BookBuffer <= 0 {
		return fmt.Errorf("channels.book_buffer must be greater than 0")
	}

	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Reader.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("reader.rate_limit.burst_size must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.EmitInterval < 0 {
		return fmt.Errorf("processor.emit_interval must not be negative")
	}
	if cfg.Processor.PendingLimit <= 0 {
		return fmt.Errorf("processor.pending_limit must be greater than 0")
	}

	if cfg.Writer.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
	}
	// parquet-go has no LZO writer
	switch cfg.Writer.Formats.Parquet.Compression {
	case "", "snappy", "gzip", "none":
	default:
		return fmt.Errorf("writer.formats.parquet.compression '%s' is not supported", cfg.Writer.Formats.Parquet.Compression)
	}

	sources := map[string]ExchangeConfig{
		"binance":  cfg.Source.Binance,
		"bybit":    cfg.Source.Bybit,
		"okx":      cfg.Source.Okx,
		"bitfinex": cfg.Source.Bitfinex,
	}
	for name, src := range sources {
		if err := validateExchange(name, src); err != nil {
			return err
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Redis.Enabled {
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required when redis is enabled")
		}
		if cfg.Storage.Redis.DB < 0 {
			return fmt.Errorf("storage.redis.db must not be negative")
		}
		if cfg.Storage.Redis.TTL < 0 {
			return fmt.Errorf("storage.redis.ttl must not be negative")
		}
	}

	return nil
}

func validateExchange(name string, src ExchangeConfig) error {
	if !src.Enabled {
		return nil
	}
	if src.URL == "" {
		return fmt.Errorf("source.%s.url is required when enabled", name)
	}
	if len(src.Symbols) == 0 {
		return fmt.Errorf("source.%s.symbols must not be empty when enabled", name)
	}
	if src.Depth < 0 {
		return fmt.Errorf("source.%s.depth must not be negative", name)
	}
	if name == "bitfinex" {
		for _, p := range src.Precisions {
			switch p {
			case "P0", "P1", "P2", "P3", "P4", "R0":
			default:
				return fmt.Errorf("source.bitfinex.precisions contains unknown precision '%s'", p)
			}
		}
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
