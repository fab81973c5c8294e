package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NetworkConfig describes one chain to collect from.
type NetworkConfig struct {
	Name          string   `mapstructure:"name"`
	ChainID       uint64   `mapstructure:"chain-id"`
	RPCURL        string   `mapstructure:"rpc"`
	BulkLogMethod string   `mapstructure:"bulk-log-method"`
	ExplorerBase  string   `mapstructure:"explorer-base"`
	ProposalBase  string   `mapstructure:"proposal-base"`
	Addresses     []string `mapstructure:"addresses"`
	Bodies        []string `mapstructure:"bodies"`
	Categories    []string `mapstructure:"categories"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Networks []NetworkConfig

	FromBlock uint64
	ToBlock   uint64

	MinSegmentSpan uint64
	MaxAttempts    int
	RetryBackoff   time.Duration
	Pacing         time.Duration

	BlobBackend string
	BlobRoot    string
	S3Region    string
	S3Bucket    string
	S3Prefix    string

	StatePrefix string
	ScratchDir  string

	FeedKey       string
	RSSKey        string
	FeedThreshold int
	FeedTitle     string
	FeedLink      string
	FeedDesc      string
	FeedLockPath  string

	HistoryKey              string
	HistoryArchiveThreshold int
	HistoryKeepRecent       int
	HistoryMinArchiveAge    time.Duration
	HistoryLockPath         string
	LockTimeout             time.Duration

	TSCachePath       string
	TSCacheMaxAge     time.Duration
	TSCacheMaxEntries int
	TSCacheFlushEvery int

	PGDSN    string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOVSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("min-segment-span", uint64(100))
	v.SetDefault("max-attempts", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("pacing", 200*time.Millisecond)
	v.SetDefault("blob-backend", "fs")
	v.SetDefault("blob-root", "./data/blobs")
	v.SetDefault("state-prefix", "state/")
	v.SetDefault("scratch-dir", "./data/scratch")
	v.SetDefault("feed-key", "feed/governance.json")
	v.SetDefault("rss-key", "feed/governance.xml")
	v.SetDefault("feed-threshold", 1000)
	v.SetDefault("feed-title", "On-chain Governance Feed")
	v.SetDefault("feed-link", "https://govscope.example/feed")
	v.SetDefault("feed-description", "Merged governance events across networks")
	v.SetDefault("feed-lock", "./data/locks/feed.lock")
	v.SetDefault("history-key", "history/processing.json")
	v.SetDefault("history-archive-threshold", 500)
	v.SetDefault("history-keep-recent", 100)
	v.SetDefault("history-min-archive-age", 24*time.Hour)
	v.SetDefault("history-lock", "./data/locks/history.lock")
	v.SetDefault("lock-timeout", 30*time.Second)
	v.SetDefault("tscache-path", "./data/tscache.json")
	v.SetDefault("tscache-max-age", 30*24*time.Hour)
	v.SetDefault("tscache-max-entries", 10000)
	v.SetDefault("tscache-flush-every", 50)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var networks []NetworkConfig
	if err := v.UnmarshalKey("networks", &networks); err != nil {
		return Config{}, fmt.Errorf("parse networks: %w", err)
	}

	cfg := Config{
		Networks:                networks,
		FromBlock:               v.GetUint64("from"),
		ToBlock:                 v.GetUint64("to"),
		MinSegmentSpan:          v.GetUint64("min-segment-span"),
		MaxAttempts:             v.GetInt("max-attempts"),
		RetryBackoff:            v.GetDuration("retry-backoff"),
		Pacing:                  v.GetDuration("pacing"),
		BlobBackend:             v.GetString("blob-backend"),
		BlobRoot:                v.GetString("blob-root"),
		S3Region:                v.GetString("s3-region"),
		S3Bucket:                v.GetString("s3-bucket"),
		S3Prefix:                v.GetString("s3-prefix"),
		StatePrefix:             v.GetString("state-prefix"),
		ScratchDir:              v.GetString("scratch-dir"),
		FeedKey:                 v.GetString("feed-key"),
		RSSKey:                  v.GetString("rss-key"),
		FeedThreshold:           v.GetInt("feed-threshold"),
		FeedTitle:               v.GetString("feed-title"),
		FeedLink:                v.GetString("feed-link"),
		FeedDesc:                v.GetString("feed-description"),
		FeedLockPath:            v.GetString("feed-lock"),
		HistoryKey:              v.GetString("history-key"),
		HistoryArchiveThreshold: v.GetInt("history-archive-threshold"),
		HistoryKeepRecent:       v.GetInt("history-keep-recent"),
		HistoryMinArchiveAge:    v.GetDuration("history-min-archive-age"),
		HistoryLockPath:         v.GetString("history-lock"),
		LockTimeout:             v.GetDuration("lock-timeout"),
		TSCachePath:             v.GetString("tscache-path"),
		TSCacheMaxAge:           v.GetDuration("tscache-max-age"),
		TSCacheMaxEntries:       v.GetInt("tscache-max-entries"),
		TSCacheFlushEvery:       v.GetInt("tscache-flush-every"),
		PGDSN:                   v.GetString("pg-dsn"),
		LogLevel:                v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the invariants the pipeline relies on.
func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	for _, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("network name is required")
		}
		if n.RPCURL == "" {
			return fmt.Errorf("network %s: rpc url is required", n.Name)
		}
		if len(n.Addresses) == 0 {
			return fmt.Errorf("network %s: at least one contract address is required", n.Name)
		}
	}
	if c.BlobBackend != "fs" && c.BlobBackend != "s3" {
		return fmt.Errorf("unknown blob backend: %s", c.BlobBackend)
	}
	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("s3 bucket is required for the s3 backend")
	}
	return nil
}
