package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge-backend/internal/platform/envutil"
)

type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	ClaimInterval time.Duration `yaml:"claim_interval"`
	StaleRunning  time.Duration `yaml:"stale_running"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Per-stage caps: analysis and render are resource-heavy and run lower
	// than discovery.
	StageLimits map[string]int64 `yaml:"stage_limits"`
}

type DispatchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	JitterFrac  float64       `yaml:"jitter_frac"`
	// Task deadline per stage, seconds. Zero means no deadline.
	DeadlineSecs map[string]int `yaml:"deadline_secs"`
}

type DiscoveryConfig struct {
	Platforms        []string `yaml:"platforms"`
	PerPlatformLimit int      `yaml:"per_platform_limit"`
}

type SelectionConfig struct {
	TrendingWeight  float64 `yaml:"trending_weight"`
	QualityWeight   float64 `yaml:"quality_weight"`
	RelevanceWeight float64 `yaml:"relevance_weight"`
	MaxClips        int     `yaml:"max_clips"`
	MaxPerAuthor    int     `yaml:"max_per_author"`
	AllowFallback   bool    `yaml:"allow_fallback"`
}

type StageThresholds struct {
	MinItems    int `yaml:"min_items"`
	MinAnalyses int `yaml:"min_analyses"`
}

type Config struct {
	Env        string          `yaml:"env"`
	HTTP       HTTPConfig      `yaml:"http"`
	Auth       AuthConfig      `yaml:"auth"`
	Worker     WorkerConfig    `yaml:"worker"`
	Dispatch   DispatchConfig  `yaml:"dispatch"`
	Discovery  DiscoveryConfig `yaml:"discovery"`
	Selection  SelectionConfig `yaml:"selection"`
	Thresholds StageThresholds `yaml:"thresholds"`
}

func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			AllowOrigins: []string{"http://localhost:3000"},
		},
		Worker: WorkerConfig{
			Concurrency:   4,
			ClaimInterval: time.Second,
			StaleRunning:  30 * time.Minute,
			SweepInterval: 30 * time.Second,
			StageLimits: map[string]int64{
				"discovery": 8,
				"analysis":  3,
				"render":    1,
			},
		},
		Dispatch: DispatchConfig{
			MaxAttempts: 3,
			MinBackoff:  time.Second,
			MaxBackoff:  30 * time.Second,
			JitterFrac:  0.20,
			DeadlineSecs: map[string]int{
				"discovery": 300,
				"analysis":  180,
				"render":    1800,
			},
		},
		Discovery: DiscoveryConfig{
			Platforms:        []string{"youtube", "tiktok", "instagram"},
			PerPlatformLimit: 50,
		},
		Selection: SelectionConfig{
			TrendingWeight:  0.4,
			QualityWeight:   0.3,
			RelevanceWeight: 0.3,
			MaxClips:        10,
			MaxPerAuthor:    2,
			AllowFallback:   true,
		},
		Thresholds: StageThresholds{
			MinItems:    1,
			MinAnalyses: 1,
		},
	}
}

// Load reads the optional YAML file at CONFIG_PATH over the defaults, then
// applies env overrides for deployment-specific values.
func Load() (Config, error) {
	cfg := Default()

	path := envutil.String("CONFIG_PATH", "")
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Env = envutil.String("APP_ENV", cfg.Env)
	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Auth.JWTSecret = envutil.String("JWT_SECRET_KEY", cfg.Auth.JWTSecret)
	cfg.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.ClaimInterval = envutil.Duration("WORKER_CLAIM_INTERVAL", cfg.Worker.ClaimInterval)
	cfg.Worker.StaleRunning = envutil.Duration("WORKER_STALE_RUNNING", cfg.Worker.StaleRunning)
	cfg.Worker.SweepInterval = envutil.Duration("WORKER_SWEEP_INTERVAL", cfg.Worker.SweepInterval)
	cfg.Dispatch.MaxAttempts = envutil.Int("DISPATCH_MAX_ATTEMPTS", cfg.Dispatch.MaxAttempts)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	sum := c.Selection.TrendingWeight + c.Selection.QualityWeight + c.Selection.RelevanceWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("selection weights must sum to 1.0, got %.3f", sum)
	}
	if c.Selection.MaxClips < 1 {
		return fmt.Errorf("selection.max_clips must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be >= 1")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1")
	}
	return nil
}
