// Package scorer computes the burnout score from the signal buffer using
// exponential time decay and EMA smoothing.
package scorer

import (
	"math"
	"sort"
	"time"

	"codecoach/internal/logging"
	"codecoach/internal/signal"
)

// Level buckets a score into a severity band.
type Level string

const (
	LevelLow      Level = "low"      // score < 0.30
	LevelModerate Level = "moderate" // 0.30 <= score < 0.50
	LevelHigh     Level = "high"     // 0.50 <= score < 0.70
	LevelCritical Level = "critical" // score >= 0.70
)

// Contribution is one signal's share of the current score.
type Contribution struct {
	Kind         signal.Kind `json:"kind"`
	Contribution float64     `json:"contribution"`
	AgeMinutes   float64     `json:"age_minutes"`
}

// Config tunes decay and smoothing.
type Config struct {
	DecayRatePerMinute float64       `yaml:"decay_rate_per_minute"`
	SmoothingAlpha     float64       `yaml:"smoothing_alpha"`
	CriticalThreshold  float64       `yaml:"critical_threshold"`
	HighThreshold      float64       `yaml:"high_threshold"`
	ModerateThreshold  float64       `yaml:"moderate_threshold"`
	SessionGap         time.Duration `yaml:"session_gap"`
}

// DefaultConfig returns the standard scoring constants.
func DefaultConfig() Config {
	return Config{
		DecayRatePerMinute: 0.1,
		SmoothingAlpha:     0.3,
		CriticalThreshold:  0.70,
		HighThreshold:      0.50,
		ModerateThreshold:  0.30,
		SessionGap:         30 * time.Minute,
	}
}

// scorePoint records one smoothed score for session-series derivation.
type scorePoint struct {
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Scorer folds the signal buffer into a smoothed burnout score in [0, 1].
// Not safe for concurrent use; the owning context serializes access.
type Scorer struct {
	cfg Config

	previous    float64
	initialized bool
	history     []scorePoint
	top         []Contribution

	nowFn func() time.Time
}

// New creates a scorer with the given config.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, nowFn: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Scorer) SetClock(fn func() time.Time) { s.nowFn = fn }

// Score folds signals into the smoothed burnout score. Each signal
// contributes weight * exp(-decay * ageMinutes); the raw sum is clamped
// to [0, 1] then EMA-smoothed against the previous score.
func (s *Scorer) Score(signals []signal.Signal) float64 {
	return s.score(signals, true)
}

// RawScore computes the decayed sum without EMA smoothing and without
// touching scorer state.
func (s *Scorer) RawScore(signals []signal.Signal) float64 {
	now := s.nowFn()
	raw := 0.0
	for _, sig := range signals {
		raw += s.contribution(sig, now)
	}
	return clamp01(raw)
}

func (s *Scorer) score(signals []signal.Signal, smooth bool) float64 {
	now := s.nowFn()

	raw := 0.0
	contributions := make([]Contribution, 0, len(signals))
	for _, sig := range signals {
		c := s.contribution(sig, now)
		raw += c
		if math.Abs(c) > 0.001 {
			contributions = append(contributions, Contribution{
				Kind:         sig.Kind,
				Contribution: c,
				AgeMinutes:   now.Sub(sig.Timestamp).Minutes(),
			})
		}
	}
	raw = clamp01(raw)

	score := raw
	if smooth {
		if !s.initialized {
			s.previous = raw
			s.initialized = true
		}
		score = s.cfg.SmoothingAlpha*raw + (1-s.cfg.SmoothingAlpha)*s.previous
		s.previous = score
	}
	score = clamp01(score)

	sort.Slice(contributions, func(i, j int) bool {
		return math.Abs(contributions[i].Contribution) > math.Abs(contributions[j].Contribution)
	})
	if len(contributions) > 5 {
		contributions = contributions[:5]
	}
	s.top = contributions

	s.history = append(s.history, scorePoint{Score: score, At: now})

	logging.ScorerDebug("score=%.3f raw=%.3f signals=%d", score, raw, len(signals))
	return score
}

func (s *Scorer) contribution(sig signal.Signal, now time.Time) float64 {
	age := now.Sub(sig.Timestamp).Minutes()
	if age < 0 {
		age = 0
	}
	return sig.Weight * math.Exp(-s.cfg.DecayRatePerMinute*age)
}

// Level buckets a score by the configured thresholds.
func (s *Scorer) Level(score float64) Level {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return LevelCritical
	case score >= s.cfg.HighThreshold:
		return LevelHigh
	case score >= s.cfg.ModerateThreshold:
		return LevelModerate
	default:
		return LevelLow
	}
}

// TopContributors returns up to five signals ranked by |contribution|
// from the most recent Score call.
func (s *Scorer) TopContributors() []Contribution {
	return s.top
}

// SessionScores derives the per-session peak score series for trend
// analysis. Score history is split into sessions wherever consecutive
// scores are more than the session gap apart; each session yields its
// maximum score.
func (s *Scorer) SessionScores() []float64 {
	if len(s.history) == 0 {
		return nil
	}
	var peaks []float64
	peak := s.history[0].Score
	last := s.history[0].At
	for _, p := range s.history[1:] {
		if p.At.Sub(last) > s.cfg.SessionGap {
			peaks = append(peaks, peak)
			peak = p.Score
		} else if p.Score > peak {
			peak = p.Score
		}
		last = p.At
	}
	return append(peaks, peak)
}

// Previous returns the last smoothed score (0 before the first Score call).
func (s *Scorer) Previous() float64 { return s.previous }

// Restore seeds the EMA state after a snapshot import.
func (s *Scorer) Restore(previous float64) {
	s.previous = previous
	s.initialized = true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
