package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tidalhq/tidal/pkg/log"
)

// Config is the top-level configuration loaded from file and environment.
type Config struct {
	// HTTPAddr is the bind address of the HTTP+SSE transport.
	HTTPAddr string `yaml:"httpAddr" env:"TIDAL_HTTP_ADDR"`
	// DataDir holds the event log and identity database.
	DataDir string `yaml:"dataDir" env:"TIDAL_DATA_DIR"`
	// Fsync selects the WAL sync policy: always, interval, or never.
	Fsync string `yaml:"fsync" env:"TIDAL_FSYNC"`

	Log       log.Config      `yaml:"log"`
	Defaults  TenantDefaults  `yaml:"defaults" envPrefix:"TIDAL_DEFAULTS_"`
	Dispatch  DispatchConfig  `yaml:"dispatch" envPrefix:"TIDAL_DISPATCH_"`
	Retention RetentionConfig `yaml:"retention" envPrefix:"TIDAL_RETENTION_"`
	Archive   ArchiveConfig   `yaml:"archive" envPrefix:"TIDAL_ARCHIVE_"`
	Usage     UsageConfig     `yaml:"usage" envPrefix:"TIDAL_USAGE_"`
}

// TenantDefaults are the quota baselines for projects without explicit
// limits.
type TenantDefaults struct {
	MaxConnections  int     `yaml:"maxConnections" env:"MAX_CONNECTIONS"`
	MaxEventsPerSec float64 `yaml:"maxEventsPerSec" env:"MAX_EVENTS_PER_SEC"`
	MaxPayloadBytes int     `yaml:"maxPayloadBytes" env:"MAX_PAYLOAD_BYTES"`
	// QueueCap is each subscriber connection's outbound queue capacity.
	QueueCap int `yaml:"queueCap" env:"QUEUE_CAP"`
}

// DispatchConfig tunes the fan-out pumps.
type DispatchConfig struct {
	BatchSize  int           `yaml:"batchSize" env:"BATCH_SIZE"`
	StallGrace time.Duration `yaml:"stallGrace" env:"STALL_GRACE"`
	RetryTick  time.Duration `yaml:"retryTick" env:"RETRY_TICK"`
	IdleWait   time.Duration `yaml:"idleWait" env:"IDLE_WAIT"`
}

// RetentionConfig tunes the background compactor.
type RetentionConfig struct {
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	SegmentSize int           `yaml:"segmentSize" env:"SEGMENT_SIZE"`
	// DefaultMaxAge and DefaultMaxBytes apply to topics without a
	// persisted policy. Zero disables the bound.
	DefaultMaxAge   time.Duration `yaml:"defaultMaxAge" env:"DEFAULT_MAX_AGE"`
	DefaultMaxBytes int64         `yaml:"defaultMaxBytes" env:"DEFAULT_MAX_BYTES"`
}

// ArchiveConfig selects the segment export target. An empty bucket disables
// archiving: retention trims without exporting.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket" env:"BUCKET"`
	Region       string `yaml:"region" env:"REGION"`
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"USE_PATH_STYLE"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
}

// UsageConfig tunes the usage recorder.
type UsageConfig struct {
	FlushInterval time.Duration `yaml:"flushInterval" env:"FLUSH_INTERVAL"`
	Buffer        int           `yaml:"buffer" env:"BUFFER"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		DataDir:  DefaultDataDir(),
		Fsync:    "interval",
		Log:      log.Config{Level: "info", Format: "text"},
		Defaults: TenantDefaults{
			MaxConnections:  100,
			MaxEventsPerSec: 100,
			MaxPayloadBytes: 64 << 10,
			QueueCap:        256,
		},
		Dispatch: DispatchConfig{
			BatchSize:  256,
			StallGrace: 5 * time.Second,
			RetryTick:  10 * time.Millisecond,
			IdleWait:   250 * time.Millisecond,
		},
		Retention: RetentionConfig{
			Interval:    time.Minute,
			SegmentSize: 1000,
		},
		Usage: UsageConfig{
			FlushInterval: 30 * time.Second,
			Buffer:        4096,
		},
	}
}

// Load reads configuration from a YAML file, starting from defaults. An
// empty path returns defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays TIDAL_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	return env.Parse(cfg)
}
