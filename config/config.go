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
	Orderflow OrderflowConfig `yaml:"orderflow"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Profile   ProfileConfig   `yaml:"profile"`
	Signals   SignalsConfig   `yaml:"signals"`
	Source    SourceConfig    `yaml:"source"`
	Store     StoreConfig     `yaml:"store"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type OrderflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	UsedWeight  bool             `yaml:"used_weight"`
	ChannelSize bool             `yaml:"channel_size"`
	Prometheus  PrometheusConfig `yaml:"prometheus"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type CloudWatchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Namespace     string        `yaml:"namespace"`
	Region        string        `yaml:"region"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ChannelsConfig struct {
	RawBuffer      int `yaml:"raw_buffer"`
	BatchBuffer    int `yaml:"batch_buffer"`
	SnapshotBuffer int `yaml:"snapshot_buffer"`
}

type ReaderConfig struct {
	MaxWorkers int             `yaml:"max_workers"`
	Timeout    time.Duration   `yaml:"timeout"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Retry      RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// ProfileConfig controls how the analyzer buckets trades into volume profile
// and delta histograms. BucketWidths overrides the default width per symbol.
// When RecomputeEachBatch is off the analyzer coalesces recomputation onto a
// one second ticker instead of recomputing per incoming batch.
type ProfileConfig struct {
	DefaultBucketWidth float64            `yaml:"default_bucket_width"`
	BucketWidths       map[string]float64 `yaml:"bucket_widths"`
	ValueAreaFraction  float64            `yaml:"value_area_fraction"`
	TieBreakBelow      bool               `yaml:"tie_break_below"`
	DeltaBucketMs      int64              `yaml:"delta_bucket_ms"`
	WindowDuration     time.Duration      `yaml:"window_duration"`
	MaxEvents          int                `yaml:"max_events"`
	RecomputeEachBatch bool               `yaml:"recompute_each_batch"`
}

type SignalsConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold"`
	MinEvents          int           `yaml:"min_events"`
	Cooldown           time.Duration `yaml:"cooldown"`
	HistorySize        int           `yaml:"history_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
	Bybit   BybitSourceConfig   `yaml:"bybit"`
}

type BinanceSourceConfig struct {
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Future         BinanceFutureConfig  `yaml:"future"`
}

type BybitSourceConfig struct {
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Future         BybitFutureConfig    `yaml:"future"`
}

type BinanceFutureConfig struct {
	Trades BinanceTradesConfig `yaml:"trades"`
}

type BybitFutureConfig struct {
	Trades BybitTradesConfig `yaml:"trades"`
}

type BinanceTradesConfig struct {
	Rest   BinanceTradeRestConfig   `yaml:"rest"`
	Stream BinanceTradeStreamConfig `yaml:"stream"`
}

type BybitTradesConfig struct {
	Rest   BybitTradeRestConfig   `yaml:"rest"`
	Stream BybitTradeStreamConfig `yaml:"stream"`
}

type BinanceTradeRestConfig struct {
	Enabled    bool     `yaml:"enabled"`
	URL        string   `yaml:"url"`
	Limit      int      `yaml:"limit"`
	IntervalMs int      `yaml:"interval_ms"`
	Symbols    []string `yaml:"symbols"`
}

type BinanceTradeStreamConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
}

type BybitTradeRestConfig struct {
	Enabled    bool     `yaml:"enabled"`
	URL        string   `yaml:"url"`
	Category   string   `yaml:"category"`
	Limit      int      `yaml:"limit"`
	IntervalMs int      `yaml:"interval_ms"`
	Symbols    []string `yaml:"symbols"`
}

type BybitTradeStreamConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Symbols []string `yaml:"symbols"`
}

// StoreConfig locates the persisted client state. The watchlist file is the
// only state that survives restarts; snapshots are recomputed from live data.
type StoreConfig struct {
	WatchlistPath string        `yaml:"watchlist_path"`
	Autosave      time.Duration `yaml:"autosave"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogBuffer       int           `yaml:"log_buffer"`
	MetricBuffer    int           `yaml:"metric_buffer"`
}

type WriterConfig struct {
	MaxWorkers  int           `yaml:"max_workers"`
	Buffer      BufferConfig  `yaml:"buffer"`
	Formats     FormatsConfig `yaml:"formats"`
	Compression string        `yaml:"compression"`
	MetadataDir string        `yaml:"metadata_dir"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	PageSize    int    `yaml:"page_size"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool   `yaml:"enabled"`
	Bucket            string `yaml:"bucket"`
	Prefix            string `yaml:"prefix"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			UsedWeight:  true,
			ChannelSize: true,
			Prometheus: PrometheusConfig{
				Enabled: true,
				Addr:    ":9090",
			},
			CloudWatch: CloudWatchConfig{
				Namespace:     "Orderflow",
				FlushInterval: time.Minute,
			},
		},
		Profile: ProfileConfig{
			DefaultBucketWidth: 1.0,
			ValueAreaFraction:  0.70,
			DeltaBucketMs:      60_000,
			WindowDuration:     30 * time.Minute,
			MaxEvents:          50_000,
			RecomputeEachBatch: true,
		},
		Signals: SignalsConfig{
			Enabled:            true,
			ImbalanceThreshold: 65,
			MinEvents:          50,
			Cooldown:           5 * time.Minute,
			HistorySize:        256,
		},
		Store: StoreConfig{
			WatchlistPath: "data/watchlist.json",
			Autosave:      30 * time.Second,
		},
		Writer: WriterConfig{
			MetadataDir: "data/archive",
		},
		Dashboard: DashboardConfig{
			Addr:            ":8080",
			RefreshInterval: 5 * time.Second,
			LogBuffer:       500,
			MetricBuffer:    500,
		},
	}
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

	if v := os.Getenv("KAFKA_BROKERS"); v != "" && config.Kafka.Enabled {
		brokers := strings.Split(v, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		config.Kafka.Brokers = brokers
	}

	// Validate configuration
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Orderflow.Name == "" {
		return fmt.Errorf("orderflow.name is required")
	}

	if cfg.Orderflow.Version == "" {
		return fmt.Errorf("orderflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}
	if cfg.Channels.SnapshotBuffer <= 0 {
		return fmt.Errorf("channels.snapshot_buffer must be greater than 0")
	}

	if cfg.Reader.MaxWorkers <= 0 {
		return fmt.Errorf("reader.max_workers must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Profile.DefaultBucketWidth <= 0 {
		return fmt.Errorf("profile.default_bucket_width must be greater than 0")
	}
	for symbol, width := range cfg.Profile.BucketWidths {
		if width <= 0 {
			return fmt.Errorf("profile.bucket_widths[%s] must be greater than 0", symbol)
		}
	}
	if cfg.Profile.ValueAreaFraction <= 0 || cfg.Profile.ValueAreaFraction > 1 {
		return fmt.Errorf("profile.value_area_fraction must be within (0, 1]")
	}
	if cfg.Profile.DeltaBucketMs <= 0 {
		return fmt.Errorf("profile.delta_bucket_ms must be greater than 0")
	}
	if cfg.Profile.WindowDuration <= 0 {
		return fmt.Errorf("profile.window_duration must be greater than 0")
	}
	if cfg.Profile.MaxEvents <= 0 {
		return fmt.Errorf("profile.max_events must be greater than 0")
	}

	if cfg.Signals.Enabled {
		if cfg.Signals.ImbalanceThreshold <= 0 || cfg.Signals.ImbalanceThreshold > 100 {
			return fmt.Errorf("signals.imbalance_threshold must be within (0, 100]")
		}
		if cfg.Signals.MinEvents < 0 {
			return fmt.Errorf("signals.min_events must not be negative")
		}
	}

	if !cfg.Source.Binance.Future.Trades.Rest.Enabled &&
		!cfg.Source.Binance.Future.Trades.Stream.Enabled &&
		!cfg.Source.Bybit.Future.Trades.Rest.Enabled &&
		!cfg.Source.Bybit.Future.Trades.Stream.Enabled {
		return fmt.Errorf("at least one trade source must be enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Namespace == "" {
			return fmt.Errorf("metrics.cloudwatch.namespace is required when cloudwatch is enabled")
		}
		if cfg.Metrics.CloudWatch.Region == "" {
			return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
		}
		if cfg.Metrics.CloudWatch.FlushInterval <= 0 {
			return fmt.Errorf("metrics.cloudwatch.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Writer.Buffer.FlushInterval <= 0 {
			return fmt.Errorf("writer.buffer.flush_interval must be greater than 0 when S3 is enabled")
		}
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

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

// BucketWidthFor returns the configured bucket width for a symbol, falling
// back to the default width.
func (p ProfileConfig) BucketWidthFor(symbol string) float64 {
	if w, ok := p.BucketWidths[symbol]; ok && w > 0 {
		return w
	}
	return p.DefaultBucketWidth
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
