// Package config loads codecoach configuration from an optional coach.yaml,
// layering file values and environment overrides on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"codecoach/internal/signal"
)

// Config holds all codecoach configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Collector     CollectorConfig    `yaml:"collector"`
	Scoring       ScoringConfig      `yaml:"scoring"`
	Trend         TrendConfig        `yaml:"trend"`
	States        StateConfig        `yaml:"states"`
	Interventions InterventionConfig `yaml:"interventions"`
	Enrichment    EnrichmentConfig   `yaml:"enrichment"`
	Store         StoreConfig        `yaml:"store"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// CollectorConfig tunes pattern detection windows. Durations are strings
// ("2m", "15m") parsed with time.ParseDuration.
type CollectorConfig struct {
	WABurstCount       int     `yaml:"wa_burst_count"`
	WABurstWindow      string  `yaml:"wa_burst_window"`
	SkipStreakCount    int     `yaml:"skip_streak_count"`
	SkipStreakWindow   string  `yaml:"skip_streak_window"`
	GhostLossStreak    int     `yaml:"ghost_loss_streak"`
	HintDependencyRate float64 `yaml:"hint_dependency_rate"`
	TabSwitchCount     int     `yaml:"tab_switch_count"`
	TabSwitchWindow    string  `yaml:"tab_switch_window"`
	IdleThreshold      string  `yaml:"idle_threshold"`
	SilenceThreshold   string  `yaml:"silence_threshold"`
	FocusedSessionMin  string  `yaml:"focused_session_min"`
}

// ScoringConfig tunes the burnout scorer.
type ScoringConfig struct {
	SmoothingAlpha     float64 `yaml:"smoothing_alpha"`
	DecayRatePerMinute float64 `yaml:"decay_rate_per_minute"`
	CriticalThreshold  float64 `yaml:"critical_threshold"`
	HighThreshold      float64 `yaml:"high_threshold"`
	ModerateThreshold  float64 `yaml:"moderate_threshold"`
	SessionGap         string  `yaml:"session_gap"`
}

// TrendConfig tunes the trend detector.
type TrendConfig struct {
	WindowSize     int     `yaml:"window_size"`
	SlopeThreshold float64 `yaml:"slope_threshold"`
}

// StateConfig tunes the coaching state machine.
type StateConfig struct {
	DwellTime string `yaml:"dwell_time"`
}

// InterventionConfig tunes intervention rate limiting. Keys are coach
// state names (normal, watching, warning, protective, recovery).
type InterventionConfig struct {
	Cooldowns   map[string]string `yaml:"cooldowns"`
	MaxPerState map[string]int    `yaml:"max_per_state"`
}

// EnrichmentConfig configures the optional Gemini analyzer.
type EnrichmentConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures snapshot persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	DebugMode  bool   `yaml:"debug_mode"`
	JSONFormat bool   `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codecoach",
		Version: "0.3.0",

		Collector: CollectorConfig{
			WABurstCount:       3,
			WABurstWindow:      "2m",
			SkipStreakCount:    3,
			SkipStreakWindow:   "10m",
			GhostLossStreak:    3,
			HintDependencyRate: 0.6,
			TabSwitchCount:     10,
			TabSwitchWindow:    "5m",
			IdleThreshold:      "20m",
			SilenceThreshold:   "15m",
			FocusedSessionMin:  "45m",
		},

		Scoring: ScoringConfig{
			SmoothingAlpha:     0.3,
			DecayRatePerMinute: 0.1,
			CriticalThreshold:  0.70,
			HighThreshold:      0.50,
			ModerateThreshold:  0.30,
			SessionGap:         "30m",
		},

		Trend: TrendConfig{
			WindowSize:     5,
			SlopeThreshold: 0.1,
		},

		States: StateConfig{
			DwellTime: "2m",
		},

		Interventions: InterventionConfig{
			Cooldowns: map[string]string{
				"normal":     "30m",
				"watching":   "15m",
				"warning":    "3m",
				"protective": "1m",
				"recovery":   "5m",
			},
			MaxPerState: map[string]int{
				"normal":     1,
				"watching":   1,
				"warning":    2,
				"protective": 5,
				"recovery":   2,
			},
		},

		Enrichment: EnrichmentConfig{
			Enabled: true,
			Model:   "gemini-2.0-flash",
			Timeout: "10s",
		},

		Store: StoreConfig{
			DatabasePath: "data/codecoach.db",
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Enrichment.APIKey = key
	}
	if path := os.Getenv("COACH_DB_PATH"); path != "" {
		c.Store.DatabasePath = path
	}
	if os.Getenv("COACH_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// CollectorSettings converts the yaml durations into the collector's
// runtime configuration. Unparseable durations keep the built-in default.
func (c *Config) CollectorSettings() signal.CollectorConfig {
	sc := signal.DefaultCollectorConfig()
	if c.Collector.WABurstCount > 0 {
		sc.WABurstCount = c.Collector.WABurstCount
	}
	if c.Collector.SkipStreakCount > 0 {
		sc.SkipStreakCount = c.Collector.SkipStreakCount
	}
	if c.Collector.GhostLossStreak > 0 {
		sc.GhostLossStreak = c.Collector.GhostLossStreak
	}
	if c.Collector.HintDependencyRate > 0 {
		sc.HintDependencyRate = c.Collector.HintDependencyRate
	}
	if c.Collector.TabSwitchCount > 0 {
		sc.TabSwitchCount = c.Collector.TabSwitchCount
	}
	sc.WABurstWindow = duration(c.Collector.WABurstWindow, sc.WABurstWindow)
	sc.SkipStreakWindow = duration(c.Collector.SkipStreakWindow, sc.SkipStreakWindow)
	sc.TabSwitchWindow = duration(c.Collector.TabSwitchWindow, sc.TabSwitchWindow)
	sc.IdleThreshold = duration(c.Collector.IdleThreshold, sc.IdleThreshold)
	sc.SilenceThreshold = duration(c.Collector.SilenceThreshold, sc.SilenceThreshold)
	sc.FocusedSessionMin = duration(c.Collector.FocusedSessionMin, sc.FocusedSessionMin)
	return sc
}

// DwellTime returns the parsed state-machine dwell duration.
func (c *Config) DwellTime() time.Duration {
	return duration(c.States.DwellTime, 2*time.Minute)
}

// SessionGap returns the parsed scoring session-gap duration.
func (c *Config) SessionGap() time.Duration {
	return duration(c.Scoring.SessionGap, 30*time.Minute)
}

// EnrichmentTimeout returns the parsed enrichment call timeout.
func (c *Config) EnrichmentTimeout() time.Duration {
	return duration(c.Enrichment.Timeout, 10*time.Second)
}

// Cooldown returns the parsed intervention cooldown for a state name.
func (c *Config) Cooldown(state string, def time.Duration) time.Duration {
	if c.Interventions.Cooldowns == nil {
		return def
	}
	return duration(c.Interventions.Cooldowns[state], def)
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
