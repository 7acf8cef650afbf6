// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"time"
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8042
	defaultDataDir          = "./data"
	defaultDBPath           = "./data/stemsync.db"
	defaultRateLimitRPM     = 120
	defaultStemBitrateKbps  = 128
	defaultSearchTimeout    = 15 * time.Second
	defaultInfoTimeout      = 15 * time.Second
	defaultDownloadTimeout  = 10 * time.Minute
	defaultCacheTTL         = 10 * time.Minute
	defaultSeparatorTimeout = 15 * time.Minute
	defaultAlignerTimeout   = 15 * time.Minute
	defaultPollInterval     = 2 * time.Second
	defaultLyricsTimeout    = 20 * time.Second
	defaultGenerateTimeout  = 2 * time.Minute
	defaultMaxWorkers       = 4
	defaultReconcileDelay   = 5 * time.Second
	defaultHealthSchedule   = "@hourly"
	defaultOpenRouterURL    = "https://openrouter.ai/api/v1"

	// minStagger is the floor for the gap between reconcile spawns so a
	// restart does not stampede the model host.
	minStagger = 2 * time.Second
)

// Config is the complete runtime configuration, resolved once at startup.
// Precedence: environment > config file > defaults.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	DB        DBConfig
	Admin     AdminConfig
	Source    SourceConfig
	ModelHost ModelHostConfig
	Lyrics    LyricsConfig
	Pipeline  PipelineConfig
	Health    HealthConfig

	LogLevel string
	Debug    bool
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string
	Port         int
	BaseURL      string
	RateLimitRPM int
}

// Addr returns the host:port the server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig controls the on-disk artifact store.
type StoreConfig struct {
	DataDir string
	// StemBitrateKbps is the target bitrate for re-encoded stems.
	// Zero disables re-encoding.
	StemBitrateKbps int
}

// DBConfig controls the SQLite database.
type DBConfig struct {
	Path string
}

// AdminConfig bootstraps the administrator account.
type AdminConfig struct {
	Username string
	Password string
}

// SourceConfig configures the track source client.
type SourceConfig struct {
	APIURL          string
	Token           string
	SearchTimeout   time.Duration
	InfoTimeout     time.Duration
	DownloadTimeout time.Duration
	CacheTTL        time.Duration
}

// ModelHostConfig configures the hosted model client for stem separation
// and forced alignment.
type ModelHostConfig struct {
	APIURL           string
	Token            string
	SeparatorVersion string
	AlignerVersion   string
	SeparatorTimeout time.Duration
	AlignerTimeout   time.Duration
	PollInterval     time.Duration
}

// LyricsConfig configures reference lyrics acquisition: the plain search
// API, the scrape fallback, and the generative provider.
type LyricsConfig struct {
	SearchURL         string
	ScrapeURL         string
	ScrapeToken       string
	OpenRouterURL     string
	OpenRouterKey     string
	OpenRouterModel   string
	Referer           string
	SearchTimeout     time.Duration
	GenerativeTimeout time.Duration
}

// GenerativeEnabled reports whether the generative fallback can be called.
func (l LyricsConfig) GenerativeEnabled() bool {
	return l.OpenRouterKey != "" && l.OpenRouterModel != ""
}

// PipelineConfig controls worker admission and startup reconciliation.
type PipelineConfig struct {
	MaxWorkers       int64
	ReconcileDelay   time.Duration
	ReconcileStagger time.Duration
}

// HealthConfig controls the periodic dependency health checks.
type HealthConfig struct {
	Schedule string
}

// FromEnv builds a Config from the process environment, optionally layered
// on top of a YAML config file named by STEMSYNC_CONFIG.
func FromEnv() (*Config, error) {
	cfg := defaults()

	if path := ParseString("STEMSYNC_CONFIG", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         defaultHost,
			Port:         defaultPort,
			RateLimitRPM: defaultRateLimitRPM,
		},
		Store: StoreConfig{
			DataDir:         defaultDataDir,
			StemBitrateKbps: defaultStemBitrateKbps,
		},
		DB: DBConfig{Path: defaultDBPath},
		Source: SourceConfig{
			SearchTimeout:   defaultSearchTimeout,
			InfoTimeout:     defaultInfoTimeout,
			DownloadTimeout: defaultDownloadTimeout,
			CacheTTL:        defaultCacheTTL,
		},
		ModelHost: ModelHostConfig{
			SeparatorTimeout: defaultSeparatorTimeout,
			AlignerTimeout:   defaultAlignerTimeout,
			PollInterval:     defaultPollInterval,
		},
		Lyrics: LyricsConfig{
			OpenRouterURL:     defaultOpenRouterURL,
			SearchTimeout:     defaultLyricsTimeout,
			GenerativeTimeout: defaultGenerateTimeout,
		},
		Pipeline: PipelineConfig{
			MaxWorkers:       defaultMaxWorkers,
			ReconcileDelay:   defaultReconcileDelay,
			ReconcileStagger: minStagger,
		},
		Health:   HealthConfig{Schedule: defaultHealthSchedule},
		LogLevel: "info",
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = ParseString("HOST", cfg.Server.Host)
	cfg.Server.Port = ParseInt("PORT", cfg.Server.Port)
	cfg.Server.BaseURL = ParseString("BASE_URL", cfg.Server.BaseURL)
	cfg.Server.RateLimitRPM = ParseInt("RATE_LIMIT_RPM", cfg.Server.RateLimitRPM)

	cfg.Store.DataDir = ParseString("DATA_DIR", cfg.Store.DataDir)
	cfg.Store.StemBitrateKbps = ParseInt("STEM_BITRATE_KBPS", cfg.Store.StemBitrateKbps)
	cfg.DB.Path = ParseString("DB_PATH", cfg.DB.Path)

	cfg.Admin.Username = ParseString("ADMIN_USERNAME", cfg.Admin.Username)
	cfg.Admin.Password = ParseString("ADMIN_PASSWORD", cfg.Admin.Password)

	cfg.Source.APIURL = ParseString("DEEZER_API_URL", cfg.Source.APIURL)
	cfg.Source.Token = ParseString("DEEZER_API_TOKEN", cfg.Source.Token)
	cfg.Source.SearchTimeout = ParseDuration("DEEZER_SEARCH_TIMEOUT", cfg.Source.SearchTimeout)
	cfg.Source.InfoTimeout = ParseDuration("DEEZER_INFO_TIMEOUT", cfg.Source.InfoTimeout)
	cfg.Source.DownloadTimeout = ParseDuration("DEEZER_DOWNLOAD_TIMEOUT", cfg.Source.DownloadTimeout)
	cfg.Source.CacheTTL = ParseDuration("SEARCH_CACHE_TTL", cfg.Source.CacheTTL)

	cfg.ModelHost.APIURL = ParseString("MODEL_HOST_URL", cfg.ModelHost.APIURL)
	cfg.ModelHost.Token = ParseString("MODEL_HOST_TOKEN", cfg.ModelHost.Token)
	cfg.ModelHost.SeparatorVersion = ParseString("SEPARATOR_MODEL_VERSION", cfg.ModelHost.SeparatorVersion)
	cfg.ModelHost.AlignerVersion = ParseString("ALIGNER_MODEL_VERSION", cfg.ModelHost.AlignerVersion)
	cfg.ModelHost.SeparatorTimeout = ParseDuration("SEPARATOR_TIMEOUT", cfg.ModelHost.SeparatorTimeout)
	cfg.ModelHost.AlignerTimeout = ParseDuration("ALIGNER_TIMEOUT", cfg.ModelHost.AlignerTimeout)
	cfg.ModelHost.PollInterval = ParseDuration("MODEL_POLL_INTERVAL", cfg.ModelHost.PollInterval)

	cfg.Lyrics.SearchURL = ParseString("LYRICS_API_URL", cfg.Lyrics.SearchURL)
	cfg.Lyrics.ScrapeURL = ParseString("LYRICS_SCRAPE_URL", cfg.Lyrics.ScrapeURL)
	cfg.Lyrics.ScrapeToken = ParseString("LYRICS_SCRAPE_TOKEN", cfg.Lyrics.ScrapeToken)
	cfg.Lyrics.OpenRouterURL = ParseString("OPENROUTER_API_URL", cfg.Lyrics.OpenRouterURL)
	cfg.Lyrics.OpenRouterKey = ParseString("OPENROUTER_API_KEY", cfg.Lyrics.OpenRouterKey)
	cfg.Lyrics.OpenRouterModel = ParseString("OPENROUTER_MODEL", cfg.Lyrics.OpenRouterModel)
	cfg.Lyrics.SearchTimeout = ParseDuration("LYRICS_SEARCH_TIMEOUT", cfg.Lyrics.SearchTimeout)
	cfg.Lyrics.GenerativeTimeout = ParseDuration("LYRICS_GENERATIVE_TIMEOUT", cfg.Lyrics.GenerativeTimeout)

	cfg.Pipeline.MaxWorkers = int64(ParseInt("PIPELINE_MAX_WORKERS", int(cfg.Pipeline.MaxWorkers)))
	cfg.Pipeline.ReconcileDelay = ParseDuration("RECONCILE_DELAY", cfg.Pipeline.ReconcileDelay)
	cfg.Pipeline.ReconcileStagger = ParseDuration("RECONCILE_STAGGER", cfg.Pipeline.ReconcileStagger)

	cfg.Health.Schedule = ParseString("HEALTH_CHECK_INTERVAL", cfg.Health.Schedule)

	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.Debug = ParseBool("DEBUG", cfg.Debug)

	// Lyrics referer defaults to the public base URL when unset.
	if cfg.Lyrics.Referer == "" {
		cfg.Lyrics.Referer = cfg.Server.BaseURL
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 1-65535", c.Server.Port)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("invalid worker count %d: must be at least 1", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.ReconcileStagger < minStagger {
		c.Pipeline.ReconcileStagger = minStagger
	}
	if c.ModelHost.PollInterval <= 0 {
		return fmt.Errorf("model poll interval must be positive")
	}
	if c.Server.RateLimitRPM < 1 {
		return fmt.Errorf("invalid rate limit %d: must be at least 1 request per minute", c.Server.RateLimitRPM)
	}
	return nil
}
