package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"

	defaultWorkers        = 4
	defaultRequestTimeout = 90 * time.Second
	defaultStampLength    = 8
	defaultShardPrefixLen = 2
	defaultNonASCIIBucket = "misc"
	defaultLockFileName   = ".wpmirror.lock"

	// maxStampLength is the hex length of a SHA-256 digest, the longest
	// stamp a content-addressed name can carry.
	maxStampLength = 64
)

type LogLevel string

// HostConfig describes one logical host tag: the public base URL resources
// are served from and the local storage root backing it.
type HostConfig struct {
	BaseURL string `yaml:"base_url"`
	Root    string `yaml:"root"`
	SinkID  string `yaml:"sink_id"`
}

// LayoutConfig parameterizes the pure location mapping.
type LayoutConfig struct {
	Hosts          map[string]HostConfig `yaml:"hosts"`
	ShardPrefixLen map[string]int        `yaml:"shard_prefix_len"`
	NonASCIIBucket string                `yaml:"non_ascii_bucket"`
}

// UpstreamConfig points at the catalog source being mirrored.
type UpstreamConfig struct {
	APIBaseURL      string `yaml:"api_base_url"`
	DownloadBaseURL string `yaml:"download_base_url"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	Workers        int           `yaml:"workers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	StampLength    int           `yaml:"stamp_length"`
	KeepVersions   int           `yaml:"keep_versions"`
	Locales        []string      `yaml:"locales"`
}

type Config struct {
	SourceName string         `yaml:"source_name"`
	LogLevel   LogLevel       `yaml:"log_level"`
	LockFile   string         `yaml:"lock_file"`
	RedisURL   string         `yaml:"redis_url"`
	SinkRoot   string         `yaml:"sink_root"`
	Upstream   UpstreamConfig `yaml:"upstream"`
	Layout     LayoutConfig   `yaml:"layout"`
	Sync       SyncConfig     `yaml:"sync"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	return LoadWithFS(afero.NewOsFs(), path)
}

func LoadWithFS(fs afero.Fs, path string) (*Config, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	// The stamp length default is set before unmarshalling so that an
	// explicit zero, which disables stamping, survives loading.
	var cfg Config
	cfg.Sync.StampLength = defaultStampLength
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.Sync.Workers < 1 {
		c.Sync.Workers = defaultWorkers
	}
	if c.Sync.RequestTimeout <= 0 {
		c.Sync.RequestTimeout = defaultRequestTimeout
	}
	if c.Layout.NonASCIIBucket == "" {
		c.Layout.NonASCIIBucket = defaultNonASCIIBucket
	}
	if c.Layout.ShardPrefixLen == nil {
		c.Layout.ShardPrefixLen = make(map[string]int)
	}
	for _, section := range []string{"plugin", "theme"} {
		if _, exists := c.Layout.ShardPrefixLen[section]; !exists {
			c.Layout.ShardPrefixLen[section] = defaultShardPrefixLen
		}
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("WPMIRROR_REDIS_URL")
	}
}

func (c *Config) validate() error {
	if c.SourceName == "" {
		return fmt.Errorf("source_name must be set")
	}
	if c.Upstream.APIBaseURL == "" {
		return fmt.Errorf("upstream.api_base_url must be set")
	}
	if c.Sync.StampLength < 0 || c.Sync.StampLength > maxStampLength {
		return fmt.Errorf("sync.stamp_length must be between 0 and %d", maxStampLength)
	}
	if len(c.Layout.Hosts) < 1 {
		return fmt.Errorf("layout.hosts must not be empty")
	}
	for tag, host := range c.Layout.Hosts {
		if host.BaseURL == "" {
			return fmt.Errorf("host %s: base_url must be set", tag)
		}
	}

	return nil
}

// LockFilePath is where the single-run flock lives; it defaults to the first
// configured storage root.
func (c *Config) LockFilePath() string {
	if c.LockFile != "" {
		return c.LockFile
	}

	for _, host := range c.Layout.Hosts {
		if host.Root != "" {
			return host.Root + "/" + defaultLockFileName
		}
	}

	return defaultLockFileName
}
