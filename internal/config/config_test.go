package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "codecoach", cfg.Name)
	assert.Equal(t, 3, cfg.Collector.WABurstCount)
	assert.Equal(t, 0.3, cfg.Scoring.SmoothingAlpha)
	assert.Equal(t, "gemini-2.0-flash", cfg.Enrichment.Model)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	content := `
collector:
  wa_burst_count: 5
  wa_burst_window: 90s
scoring:
  smoothing_alpha: 0.5
states:
  dwell_time: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Collector.WABurstCount)
	assert.Equal(t, 0.5, cfg.Scoring.SmoothingAlpha)
	assert.Equal(t, 10*time.Minute, cfg.DwellTime())

	// Untouched sections keep defaults
	assert.Equal(t, 3, cfg.Collector.SkipStreakCount)
	assert.Equal(t, 0.70, cfg.Scoring.CriticalThreshold)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collector: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key-123")
	t.Setenv("COACH_DB_PATH", "/tmp/other.db")
	t.Setenv("COACH_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.Enrichment.APIKey)
	assert.Equal(t, "/tmp/other.db", cfg.Store.DatabasePath)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "coach.yaml")

	cfg := DefaultConfig()
	cfg.Collector.GhostLossStreak = 4
	cfg.Interventions.MaxPerState["warning"] = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Collector.GhostLossStreak)
	assert.Equal(t, 3, loaded.Interventions.MaxPerState["warning"])
}

func TestCollectorSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collector.WABurstWindow = "90s"
	cfg.Collector.IdleThreshold = "garbage"

	sc := cfg.CollectorSettings()
	assert.Equal(t, 90*time.Second, sc.WABurstWindow)
	assert.Equal(t, 20*time.Minute, sc.IdleThreshold, "unparseable keeps default")
	assert.Equal(t, 15*time.Minute, sc.SilenceThreshold)
	assert.Equal(t, 3, sc.GhostLossStreak)
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Minute, cfg.DwellTime())
	assert.Equal(t, 30*time.Minute, cfg.SessionGap())
	assert.Equal(t, 10*time.Second, cfg.EnrichmentTimeout())
	assert.Equal(t, 3*time.Minute, cfg.Cooldown("warning", time.Minute))
	assert.Equal(t, time.Minute, cfg.Cooldown("unknown", time.Minute))

	cfg.Interventions.Cooldowns = nil
	assert.Equal(t, time.Minute, cfg.Cooldown("warning", time.Minute))
}
