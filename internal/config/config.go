package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// PlatformMac selects Cmd as the copy modifier.
const PlatformMac = "mac"

type Config struct {
	Addr             string `env:"ZENREPLY_ADDR" yaml:"addr"`
	LogLevel         string `env:"ZENREPLY_LOG_LEVEL" yaml:"log_level"`
	Platform         string `env:"ZENREPLY_PLATFORM" yaml:"platform"`
	NATSStoreDir     string `env:"ZENREPLY_NATS_STORE_DIR" yaml:"nats_store_dir"`
	NATSPort         int    `env:"ZENREPLY_NATS_PORT" yaml:"nats_port"`
	DatabaseURL      string `env:"ZENREPLY_DATABASE_URL" yaml:"database_url"`
	WriterBufferSize int    `env:"ZENREPLY_WRITER_BUFFER_SIZE" yaml:"writer_buffer_size"`
	WriterBatchSize  int    `env:"ZENREPLY_WRITER_BATCH_SIZE" yaml:"writer_batch_size"`
	WriterFlushMs    int    `env:"ZENREPLY_WRITER_FLUSH_MS" yaml:"writer_flush_ms"`

	API     API     `yaml:"api"`
	Capture Capture `yaml:"capture"`
}

// API holds the fallback credentials used when a call does not carry its own.
type API struct {
	Key   string `env:"ZENREPLY_API_KEY" yaml:"api_key"`
	Base  string `env:"ZENREPLY_API_BASE" yaml:"api_base"`
	Model string `env:"ZENREPLY_MODEL" yaml:"model"`
}

// Capture holds clipboard timing knobs. The defaults were tuned against
// native apps and embedded web runtimes; slower targets need larger values.
type Capture struct {
	SettleDelay      time.Duration `env:"ZENREPLY_CAPTURE_SETTLE_DELAY" yaml:"settle_delay"`
	FastPollDelay    time.Duration `env:"ZENREPLY_CAPTURE_FAST_POLL_DELAY" yaml:"fast_poll_delay"`
	SlowPollInterval time.Duration `env:"ZENREPLY_CAPTURE_SLOW_POLL_INTERVAL" yaml:"slow_poll_interval"`
	SlowPollAttempts int           `env:"ZENREPLY_CAPTURE_SLOW_POLL_ATTEMPTS" yaml:"slow_poll_attempts"`
}

func DefaultCapture() Capture {
	return Capture{
		SettleDelay:      80 * time.Millisecond,
		FastPollDelay:    120 * time.Millisecond,
		SlowPollInterval: 35 * time.Millisecond,
		SlowPollAttempts: 20,
	}
}

func Default() *Config {
	return &Config{
		Addr:             "127.0.0.1:8787",
		LogLevel:         "info",
		Platform:         defaultPlatform(),
		WriterBufferSize: 1000,
		WriterBatchSize:  50,
		WriterFlushMs:    200,
		Capture:          DefaultCapture(),
	}
}

func defaultPlatform() string {
	if runtime.GOOS == "darwin" {
		return PlatformMac
	}
	return runtime.GOOS
}

// Load builds the configuration from defaults, then the optional YAML file
// at path, then the environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Capture.SettleDelay < 0 || c.Capture.FastPollDelay < 0 || c.Capture.SlowPollInterval < 0 {
		return fmt.Errorf("capture delays must not be negative")
	}
	if c.Capture.SlowPollAttempts < 0 {
		return fmt.Errorf("capture slow_poll_attempts must not be negative")
	}
	if c.WriterBatchSize <= 0 || c.WriterBufferSize <= 0 || c.WriterFlushMs <= 0 {
		return fmt.Errorf("writer sizes must be positive")
	}
	return nil
}

func (c *Config) IsMac() bool {
	return strings.EqualFold(c.Platform, PlatformMac)
}
