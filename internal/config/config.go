// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// weightEpsilon is the tolerance when checking that quality weights sum to 1.
const weightEpsilon = 1e-9

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Score    ScoreConfig    `mapstructure:"score"`
	Land     LandConfig     `mapstructure:"land"`
	Gate     GateConfig     `mapstructure:"gate"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// AuthConfig protects the HTTP API with a static key when enabled.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs fetch behavior and worker fan-out.
type CrawlerConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	HostRPS        float64 `mapstructure:"host_rps"`
	QueueDepth     int     `mapstructure:"queue_depth"`
}

// PipelineConfig holds pipeline-level gates.
type PipelineConfig struct {
	MinContentLength int `mapstructure:"min_content_length"`
}

// ScoreConfig carries the scorer knobs; it is frozen into an immutable
// snapshot before a batch starts.
type ScoreConfig struct {
	Weights             WeightsConfig `mapstructure:"weights"`
	TitleMultiplier     float64       `mapstructure:"title_multiplier"`
	BodyMultiplier      float64       `mapstructure:"body_multiplier"`
	RelevanceSaturation float64       `mapstructure:"relevance_saturation"`
	TargetWordCount     int           `mapstructure:"target_word_count"`
}

// WeightsConfig is the five quality block weights; they must sum to 1.0.
type WeightsConfig struct {
	Access    float64 `mapstructure:"access"`
	Structure float64 `mapstructure:"structure"`
	Richness  float64 `mapstructure:"richness"`
	Coherence float64 `mapstructure:"coherence"`
	Integrity float64 `mapstructure:"integrity"`
}

// Sum adds the five block weights.
func (w WeightsConfig) Sum() float64 {
	return w.Access + w.Structure + w.Richness + w.Coherence + w.Integrity
}

// LandConfig holds land-level defaults not owned by the store.
type LandConfig struct {
	Languages []string `mapstructure:"languages"`
}

// GateConfig configures the optional relevance gate.
type GateConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// ArchiveConfig points at the snapshot availability service.
type ArchiveConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects the raw body blob backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // memory | local | gcs
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for unit-processed event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LANDCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "landcrawler/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.host_rps", 1.0)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("pipeline.min_content_length", 100)
	v.SetDefault("score.weights.access", 0.30)
	v.SetDefault("score.weights.structure", 0.15)
	v.SetDefault("score.weights.richness", 0.25)
	v.SetDefault("score.weights.coherence", 0.20)
	v.SetDefault("score.weights.integrity", 0.10)
	v.SetDefault("score.title_multiplier", 10.0)
	v.SetDefault("score.body_multiplier", 1.0)
	v.SetDefault("score.relevance_saturation", 10.0)
	v.SetDefault("score.target_word_count", 1200)
	v.SetDefault("land.languages", []string{"en"})
	v.SetDefault("gate.enabled", false)
	v.SetDefault("gate.timeout_seconds", 20)
	v.SetDefault("gate.max_retries", 3)
	v.SetDefault("archive.endpoint", "https://archive.org/wayback/available")
	v.SetDefault("archive.timeout_seconds", 20)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "bodies")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Pipeline.MinContentLength <= 0 {
		return fmt.Errorf("pipeline.min_content_length must be > 0")
	}
	if sum := c.Score.Weights.Sum(); math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("score.weights must sum to 1.0, got %v", sum)
	}
	if c.Score.TitleMultiplier <= 0 || c.Score.BodyMultiplier <= 0 {
		return fmt.Errorf("score multipliers must be > 0")
	}
	if c.Score.RelevanceSaturation <= 0 {
		return fmt.Errorf("score.relevance_saturation must be > 0")
	}
	if len(c.Land.Languages) == 0 {
		return fmt.Errorf("land.languages must not be empty")
	}
	if c.Gate.Enabled && c.Gate.Endpoint == "" {
		return fmt.Errorf("gate.endpoint must be set when the gate is enabled")
	}
	if c.Gate.MaxRetries < 0 {
		return fmt.Errorf("gate.max_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	return nil
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// GateTimeout converts the gate timeout into a duration.
func (c Config) GateTimeout() time.Duration {
	return time.Duration(c.Gate.TimeoutSeconds) * time.Second
}
