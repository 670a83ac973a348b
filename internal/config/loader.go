// Package config resolves s3glob's ambient tuning knobs (concurrency,
// timeouts, provider connection settings) from, in increasing precedence:
// built-in defaults, an optional --config file, S3GLOB_* environment
// variables, and explicit CLI flags.
package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// DownloaderConfig holds the downloader's worker-pool tuning.
type DownloaderConfig struct {
	ConcurrencyPerPrefix int
	Pools                int
}

// Config is the fully resolved set of ambient s3glob settings.
type Config struct {
	MaxParallelism int
	MinParallelism int
	ExpansionCap   int
	Timeout        time.Duration
	Delimiter      string

	Downloader DownloaderConfig

	Region        string
	Profile       string
	Endpoint      string
	NoSignRequest bool

	LogLevel string
	LogFile  string
}

// envPrefix is prepended to every environment variable viper looks up, e.g.
// max_parallelism -> S3GLOB_MAX_PARALLELISM.
const envPrefix = "S3GLOB"

var (
	configMu  sync.Mutex
	appConfig *Config
)

// Defaults returns the built-in configuration (SPEC_FULL.md §10).
func Defaults() Config {
	return Config{
		MaxParallelism: 10000,
		MinParallelism: 50,
		ExpansionCap:   100_000,
		Timeout:        30 * time.Second,
		Delimiter:      "/",
		Downloader: DownloaderConfig{
			ConcurrencyPerPrefix: 16,
			Pools:                8,
		},
		// LogLevel intentionally has no default: an empty value tells
		// internal/observability to keep deriving the level from -v instead
		// of being overridden by a value nobody actually set.
	}
}

// Load resolves configuration. configFile may be empty to skip file
// loading. overrides holds values sourced from explicit CLI flags (only
// keys the user actually set should be present — a flag left at its
// zero-value default must not shadow an env var or config file value).
func Load(ctx context.Context, configFile string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("max_parallelism", def.MaxParallelism)
	v.SetDefault("min_parallelism", def.MinParallelism)
	v.SetDefault("expansion_cap", def.ExpansionCap)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("delimiter", def.Delimiter)
	v.SetDefault("downloader.concurrency_per_prefix", def.Downloader.ConcurrencyPerPrefix)
	v.SetDefault("downloader.pools", def.Downloader.Pools)
	v.SetDefault("region", def.Region)
	v.SetDefault("profile", def.Profile)
	v.SetDefault("endpoint", def.Endpoint)
	v.SetDefault("no_sign_request", def.NoSignRequest)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_file", def.LogFile)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for _, key := range []string{
		"max_parallelism", "min_parallelism", "expansion_cap", "timeout",
		"delimiter", "downloader.concurrency_per_prefix", "downloader.pools",
		"region", "profile", "endpoint", "no_sign_request", "log_level", "log_file",
	} {
		_ = v.BindEnv(key)
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	cfg := &Config{
		MaxParallelism: v.GetInt("max_parallelism"),
		MinParallelism: v.GetInt("min_parallelism"),
		ExpansionCap:   v.GetInt("expansion_cap"),
		Timeout:        v.GetDuration("timeout"),
		Delimiter:      v.GetString("delimiter"),
		Downloader: DownloaderConfig{
			ConcurrencyPerPrefix: v.GetInt("downloader.concurrency_per_prefix"),
			Pools:                v.GetInt("downloader.pools"),
		},
		Region:        v.GetString("region"),
		Profile:       v.GetString("profile"),
		Endpoint:      v.GetString("endpoint"),
		NoSignRequest: v.GetBool("no_sign_request"),
		LogLevel:      v.GetString("log_level"),
		LogFile:       v.GetString("log_file"),
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// GetConfig returns the most recently Load-ed configuration, or nil if Load
// has never been called.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}
