package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"binancefeed/internal/feed"
	"binancefeed/internal/symbols"
)

type Config struct {
	Binancefeed AppConfig       `yaml:"binancefeed"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Channels    ChannelsConfig  `yaml:"channels"`
	Stream      StreamConfig    `yaml:"stream"`
	Processor   ProcessorConfig `yaml:"processor"`
	Writer      WriterConfig    `yaml:"writer"`
	Storage     StorageConfig   `yaml:"storage"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	ChannelSize    bool          `yaml:"channel_size"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	BatchBuffer int `yaml:"batch_buffer"`
	ErrorBuffer int `yaml:"error_buffer"`
}

type StreamConfig struct {
	URL             string               `yaml:"url"`
	SubscribeID     int64                `yaml:"subscribe_id"`
	RefreshInterval time.Duration        `yaml:"refresh_interval"`
	Reconnect       ReconnectConfig      `yaml:"reconnect"`
	Subscriptions   []SubscriptionConfig `yaml:"subscriptions"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// SubscriptionConfig names one stream in the yaml form. Feed is one of
// "aggTrade", "trade", "bookTicker" or "depth"; levels and interval_ms
// apply to depth only.
type SubscriptionConfig struct {
	Symbol     string `yaml:"symbol"`
	Feed       string `yaml:"feed"`
	Levels     int    `yaml:"levels"`
	IntervalMs int    `yaml:"interval_ms"`
}

type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type WriterConfig struct {
	MaxWorkers  int          `yaml:"max_workers"`
	Buffer      BufferConfig `yaml:"buffer"`
	Compression string       `yaml:"compression"`
}

type BufferConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
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
			ChannelSize:    true,
			ReportInterval: time.Minute,
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

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ResolveSubscriptions turns the configured streams into validated
// subscriptions. Unknown symbols and feed names fail here rather than at
// the websocket.
func (s *StreamConfig) ResolveSubscriptions() ([]feed.Subscription, error) {
	subs := make([]feed.Subscription, 0, len(s.Subscriptions))
	for i, sc := range s.Subscriptions {
		sym, err := symbols.Parse(sc.Symbol)
		if err != nil {
			return nil, fmt.Errorf("stream.subscriptions[%d]: %w", i, err)
		}

		var f feed.Feed
		switch sc.Feed {
		case "aggTrade":
			f = feed.AggTrade
		case "trade":
			f = feed.Trade
		case "bookTicker":
			f = feed.BookTicker
		case "depth":
			levels := sc.Levels
			if levels == 0 {
				levels = 5
			}
			interval := sc.IntervalMs
			if interval == 0 {
				interval = 1000
			}
			f, err = feed.PartialDepth(feed.DepthLevels(levels), feed.UpdateInterval(interval))
			if err != nil {
				return nil, fmt.Errorf("stream.subscriptions[%d]: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("stream.subscriptions[%d]: unknown feed %q", i, sc.Feed)
		}

		subs = append(subs, feed.Subscription{Symbol: sym, Feed: f})
	}
	return subs, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Binancefeed.Name == "" {
		return fmt.Errorf("binancefeed.name is required")
	}

	if cfg.Binancefeed.Version == "" {
		return fmt.Errorf("binancefeed.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if len(cfg.Stream.Subscriptions) == 0 {
		return fmt.Errorf("stream.subscriptions must name at least one stream")
	}
	if _, err := cfg.Stream.ResolveSubscriptions(); err != nil {
		return err
	}
	if cfg.Stream.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("stream.reconnect.max_attempts must not be negative")
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

	if cfg.Writer.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
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
