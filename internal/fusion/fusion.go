// Package fusion combines behavioral signals, text sentiment, trend, and
// the coaching state machine into a single per-user assessment each turn.
// When behavior and words disagree, behavior wins.
package fusion

import (
	"sync"
	"time"

	"codecoach/internal/archetype"
	"codecoach/internal/coachstate"
	"codecoach/internal/enrichment"
	"codecoach/internal/intervene"
	"codecoach/internal/logging"
	"codecoach/internal/realtime"
	"codecoach/internal/scorer"
	"codecoach/internal/sentiment"
	"codecoach/internal/signal"
	"codecoach/internal/trend"
)

// Alignment classifies how behavior and words relate.
type Alignment string

const (
	AlignmentGenuineGood      Alignment = "genuine_good"      // behavior fine, words positive
	AlignmentVentingOk        Alignment = "venting_ok"        // behavior fine, words negative
	AlignmentMasking          Alignment = "masking"           // behavior bad, words positive or deflecting
	AlignmentConfirmedBurnout Alignment = "confirmed_burnout" // behavior bad, words negative
	AlignmentSilentDisengage  Alignment = "silent_disengage"  // behavior bad, user gone quiet
)

// InterventionLevel is how strongly the coach should step in.
type InterventionLevel string

const (
	LevelNone    InterventionLevel = "none"
	LevelMonitor InterventionLevel = "monitor"
	LevelGentle  InterventionLevel = "gentle"
	LevelActive  InterventionLevel = "active"
	LevelUrgent  InterventionLevel = "urgent"
)

// levelRank orders intervention levels for "at least" escalation.
var levelRank = map[InterventionLevel]int{
	LevelNone:    0,
	LevelMonitor: 1,
	LevelGentle:  2,
	LevelActive:  3,
	LevelUrgent:  4,
}

func maxLevel(a, b InterventionLevel) InterventionLevel {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// Composite weighting: behavior dominates, text refines, trend nudges.
const (
	behaviorWeight = 0.65
	textWeight     = 0.25
	trendWeight    = 0.10
)

// textScoreValues maps sentiment states to text polarity multipliers.
// Masked is a flat negative regardless of intensity.
var textScoreValues = map[sentiment.EmotionalState]float64{
	sentiment.StateCelebrating: 1.0,
	sentiment.StateMotivated:   0.6,
	sentiment.StateNeutral:     0,
	sentiment.StateFrustrated:  -0.7,
	sentiment.StateDiscouraged: -0.9,
	sentiment.StateFatigued:    -0.6,
}

const maskedTextScore = -0.8

// ghostSpeedByState sets the pace handicap of the racing ghost.
var ghostSpeedByState = map[coachstate.State]float64{
	coachstate.StateNormal:     1.0,
	coachstate.StateWatching:   0.95,
	coachstate.StateWarning:    0.7,
	coachstate.StateProtective: 0.3,
	coachstate.StateRecovery:   0.8,
}

// Context is one user's complete coaching state. All methods are
// serialized by the context mutex; distinct users run in parallel.
type Context struct {
	mu sync.Mutex

	userID string

	collector *signal.Collector
	scorer    *scorer.Scorer
	trends    *trend.Detector
	analyzer  *sentiment.Analyzer
	machine   *coachstate.Machine
	selector  *intervene.Selector
	live      *realtime.Detector
	failures  *archetype.Detector

	enricher          *enrichment.Analyzer
	enrichmentTimeout time.Duration

	lastMessageAt      *time.Time
	lastMessage        string
	failuresSinceMsg   int
	recoverySuccesses  int
	lastBurnout        float64
	lastComposite      float64

	nowFn func() time.Time
}

// Option customizes a Context.
type Option func(*Context)

// WithEnrichment attaches the Gemini analyzer. A nil or unavailable
// analyzer is fine; the keyword layer stands alone.
func WithEnrichment(a *enrichment.Analyzer, timeout time.Duration) Option {
	return func(c *Context) {
		c.enricher = a
		if timeout > 0 {
			c.enrichmentTimeout = timeout
		}
	}
}

// WithCollectorConfig replaces the default pattern-detection windows.
func WithCollectorConfig(cfg signal.CollectorConfig) Option {
	return func(c *Context) {
		c.collector = signal.NewCollector(cfg)
		c.collector.SetClock(c.nowFn)
	}
}

// WithClock overrides the time source for the context and all its
// components, for tests.
func WithClock(fn func() time.Time) Option {
	return func(c *Context) {
		c.nowFn = fn
		c.collector.SetClock(fn)
		c.scorer.SetClock(fn)
		c.analyzer.SetClock(fn)
		c.machine.SetClock(fn)
		c.selector.SetClock(fn)
		c.live.SetClock(fn)
		c.failures.SetClock(fn)
		// Re-stamp the machine entry time onto the injected clock
		c.machine.Restore(c.machine.Current(), fn())
	}
}

// NewContext creates a fresh context for one user.
func NewContext(userID string, opts ...Option) *Context {
	c := &Context{
		userID:            userID,
		collector:         signal.NewCollector(signal.DefaultCollectorConfig()),
		scorer:            scorer.New(scorer.DefaultConfig()),
		trends:            trend.New(trend.DefaultConfig()),
		analyzer:          sentiment.NewAnalyzer(),
		machine:           coachstate.NewMachine(coachstate.DefaultConfig()),
		selector:          intervene.NewSelector(intervene.DefaultConfig()),
		live:              realtime.NewDetector(),
		failures:          archetype.NewDetector(),
		enrichmentTimeout: 10 * time.Second,
		nowFn:             time.Now,
	}
	c.machine.OnEntry(coachstate.StateRecovery, func(coachstate.Transition) {
		c.recoverySuccesses = 0
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the owning user.
func (c *Context) UserID() string { return c.userID }

// StartSession opens a new activity session.
func (c *Context) StartSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collector.StartSession(c.userID)
}

// EndSession closes the session. A session that produced solves while
// the coach is in recovery counts toward completing the recovery.
func (c *Context) EndSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ended := c.collector.EndSession()
	if ended != nil && ended.ProblemsSolved > 0 &&
		c.machine.Current() == coachstate.StateRecovery {
		c.recoverySuccesses++
	}
	c.collector.CheckSessionGaps()
}

// RecordEvent ingests one raw activity event.
func (c *Context) RecordEvent(eventType string, metadata map[string]string) []signal.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch eventType {
	case signal.EventWrongAnswer, signal.EventProblemSkipped:
		c.failuresSinceMsg++
	case signal.EventGhostRaceResult:
		if metadata["won"] != "true" {
			c.failuresSinceMsg++
		}
	}
	return c.collector.RecordEvent(eventType, metadata)
}

// RecordMessage ingests one user message and classifies it.
func (c *Context) RecordMessage(text string) sentiment.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	c.lastMessageAt = &now
	c.lastMessage = text
	c.failuresSinceMsg = 0

	// Masking detection needs the raw decayed score: the smoothed score
	// lags a turn behind and is zero before the first one.
	return c.analyzer.Analyze(text, sentiment.BehaviorContext{
		BurnoutScore:    c.scorer.RawScore(c.collector.Signals()),
		RecentSkips:     c.collector.RecentSkipCount(),
		GhostLossStreak: c.collector.GhostLossStreak(),
	})
}

// RecordTyping forwards a keystroke batch to the live detector.
func (c *Context) RecordTyping(added, deleted int) []realtime.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.RecordTyping(added, deleted)
}

// RecordCodeSnapshot forwards a code snapshot to the live detector.
func (c *Context) RecordCodeSnapshot(code string) []realtime.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live.RecordSnapshot(code)
}

// StartProblem resets per-problem live detection state.
func (c *Context) StartProblem(tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live.StartProblem(tags)
}

// RecordAttempt feeds one finished problem attempt to the archetype
// detector.
func (c *Context) RecordAttempt(a archetype.Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures.RecordAttempt(a)
}

// State returns the current coach state.
func (c *Context) State() coachstate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// BurnoutScore returns the most recent smoothed score.
func (c *Context) BurnoutScore() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBurnout
}

func (c *Context) logTurn(r *TurnResult) {
	logging.Fusion("user=%s burnout=%.2f composite=%.2f state=%s alignment=%s level=%s",
		c.userID, r.BurnoutScore, r.CompositeScore, r.CoachState, r.Alignment, r.InterventionLevel)
}
