package signal

import (
	"time"

	"github.com/google/uuid"

	"codecoach/internal/logging"
)

// Event types accepted by Collector.RecordEvent. Unknown types are
// logged and ignored, never fatal.
const (
	EventSubmission      = "submission"
	EventWrongAnswer     = "wrong_answer"
	EventProblemOpened   = "problem_opened"
	EventProblemSkipped  = "problem_skipped"
	EventGhostRaceResult = "ghost_race_result"
	EventHintRequested   = "hint_requested"
	EventHintDeclined    = "hint_declined"
	EventProblemSolved   = "problem_solved"
	EventCodePaste       = "code_paste"
	EventTabSwitch       = "tab_switch"
	EventIdleDetected    = "idle_detected"
)

// CollectorConfig holds the pattern-detection windows and buffer caps.
type CollectorConfig struct {
	MaxSignals  int `yaml:"max_signals"`
	MaxSessions int `yaml:"max_sessions"`

	WABurstCount         int           `yaml:"wa_burst_count"`
	WABurstWindow        time.Duration `yaml:"wa_burst_window"`
	SkipStreakCount      int           `yaml:"skip_streak_count"`
	SkipStreakWindow     time.Duration `yaml:"skip_streak_window"`
	GhostLossStreak      int           `yaml:"ghost_loss_streak"`
	HintDependencyRate   float64       `yaml:"hint_dependency_rate"`
	HintDependencyMinDen int           `yaml:"hint_dependency_min_attempts"`
	TabSwitchCount       int           `yaml:"tab_switch_count"`
	TabSwitchWindow      time.Duration `yaml:"tab_switch_window"`
	IdleThreshold        time.Duration `yaml:"idle_threshold"`
	SilenceThreshold     time.Duration `yaml:"silence_threshold"`
	FocusedSessionMin    time.Duration `yaml:"focused_session_min"`
}

// DefaultCollectorConfig returns the standard detection thresholds.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxSignals:  20,
		MaxSessions: 10,

		WABurstCount:         3,
		WABurstWindow:        2 * time.Minute,
		SkipStreakCount:      3,
		SkipStreakWindow:     10 * time.Minute,
		GhostLossStreak:      3,
		HintDependencyRate:   0.6,
		HintDependencyMinDen: 5,
		TabSwitchCount:       10,
		TabSwitchWindow:      5 * time.Minute,
		IdleThreshold:        20 * time.Minute,
		SilenceThreshold:     15 * time.Minute,
		FocusedSessionMin:    45 * time.Minute,
	}
}

// Collector turns raw activity events into signals and maintains the
// bounded signal buffer and session history. Not safe for concurrent
// use; the owning context serializes access.
type Collector struct {
	cfg CollectorConfig

	signals  []Signal
	sessions []*Session
	current  *Session

	lastSubmission  *time.Time
	recentWAs       []time.Time
	recentSkips     []time.Time
	tabSwitches     []time.Time
	ghostLossStreak int

	nowFn func() time.Time
}

// NewCollector creates a collector with the given config.
func NewCollector(cfg CollectorConfig) *Collector {
	return &Collector{
		cfg:   cfg,
		nowFn: time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (c *Collector) SetClock(fn func() time.Time) { c.nowFn = fn }

// StartSession opens a new session, closing any session still open.
func (c *Collector) StartSession(userID string) *Session {
	if c.current != nil {
		c.EndSession()
	}
	c.current = &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartTime: c.nowFn(),
	}
	logging.Signals("session started user=%s id=%s", userID, c.current.ID)
	return c.current
}

// EndSession closes the current session, appends it to history, and
// runs the cross-session checks (length decay, long focused session).
func (c *Collector) EndSession() *Session {
	if c.current == nil {
		return nil
	}
	now := c.nowFn()
	c.current.EndTime = &now
	c.appendSession(c.current)

	ended := c.current
	c.current = nil

	c.checkSessionLengthDecay(now)

	// A long session that produced solves counts toward recovery.
	if ended.Duration(now) >= c.cfg.FocusedSessionMin && ended.ProblemsSolved > 0 {
		c.appendSignal(New(KindLongFocusedSession, now, nil))
	}

	logging.Signals("session ended id=%s duration=%s solved=%d", ended.ID, ended.Duration(now), ended.ProblemsSolved)
	return ended
}

// CurrentSession returns the open session, or nil.
func (c *Collector) CurrentSession() *Session { return c.current }

// Sessions returns the session history, oldest first.
func (c *Collector) Sessions() []*Session { return c.sessions }

// GhostLossStreak returns the current run of consecutive ghost losses.
func (c *Collector) GhostLossStreak() int { return c.ghostLossStreak }

// RecordEvent maps a raw activity event to zero or more signals,
// mutating session counters as a side effect. Unknown event types are
// silently ignored.
func (c *Collector) RecordEvent(eventType string, metadata map[string]string) []Signal {
	now := c.nowFn()
	var detected []Signal

	switch eventType {
	case EventSubmission:
		c.lastSubmission = &now
		if c.current != nil {
			c.current.ProblemsAttempted++
		}

	case EventWrongAnswer:
		detected = append(detected, c.processWrongAnswer(now, metadata)...)

	case EventProblemOpened:
		// Tracked only for session accounting; skips carry the signal.

	case EventProblemSkipped:
		detected = append(detected, c.processSkip(now, metadata)...)

	case EventGhostRaceResult:
		detected = append(detected, c.processGhostRace(now, metadata)...)

	case EventHintRequested:
		if s := c.processHintRequest(now, metadata); s != nil {
			detected = append(detected, *s)
		}

	case EventHintDeclined:
		detected = append(detected, New(KindHintDeclined, now, metadata))

	case EventProblemSolved:
		detected = append(detected, New(KindSuccessfulSolve, now, metadata))
		if c.current != nil {
			c.current.ProblemsSolved++
		}

	case EventCodePaste:
		detected = append(detected, New(KindCopyPasteDetection, now, metadata))

	case EventTabSwitch:
		detected = append(detected, c.processTabSwitch(now, metadata)...)

	case EventIdleDetected:
		if d, ok := parseDurationMeta(metadata, "idle"); ok && d >= c.cfg.IdleThreshold {
			detected = append(detected, New(KindIdleOnProblem, now, metadata))
		}

	default:
		logging.SignalsDebug("ignoring unknown event type %q", eventType)
	}

	for _, s := range detected {
		c.appendSignal(s)
	}
	return detected
}

// CheckSilenceAfterSubmission probes the submit-then-silence pattern.
// Call periodically. Fires at most once per submission.
func (c *Collector) CheckSilenceAfterSubmission() *Signal {
	if c.lastSubmission == nil {
		return nil
	}
	now := c.nowFn()
	if now.Sub(*c.lastSubmission) < c.cfg.SilenceThreshold {
		return nil
	}
	s := New(KindSubmissionThenSilence, now, nil)
	c.appendSignal(s)
	c.lastSubmission = nil
	return &s
}

// CheckSessionGaps fires when gaps between the last three sessions are
// strictly widening.
func (c *Collector) CheckSessionGaps() *Signal {
	if len(c.sessions) < 3 {
		return nil
	}
	recent := c.sessions[len(c.sessions)-3:]
	var gaps []time.Duration
	for i := 0; i < len(recent)-1; i++ {
		if recent[i].EndTime != nil {
			gaps = append(gaps, recent[i+1].StartTime.Sub(*recent[i].EndTime))
		}
	}
	if len(gaps) < 2 {
		return nil
	}
	for i := 0; i < len(gaps)-1; i++ {
		if gaps[i] >= gaps[i+1] {
			return nil
		}
	}
	s := New(KindSessionGapGrowth, c.nowFn(), nil)
	c.appendSignal(s)
	return &s
}

// Signals returns the signal buffer, oldest first.
func (c *Collector) Signals() []Signal { return c.signals }

// RecentSignals returns signals from the last window.
func (c *Collector) RecentSignals(window time.Duration) []Signal {
	cutoff := c.nowFn().Add(-window)
	var out []Signal
	for _, s := range c.signals {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// RecentSkipCount counts skip-streak signals in the tail of the buffer,
// used as behavioral context for masking detection.
func (c *Collector) RecentSkipCount() int {
	tail := c.signals
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	n := 0
	for _, s := range tail {
		if s.Kind == KindProblemSkipStreak {
			n++
		}
	}
	return n
}

// Restore reinjects persisted signals and counters after an import.
func (c *Collector) Restore(signals []Signal, ghostLossStreak int) {
	c.signals = nil
	for _, s := range signals {
		c.appendSignal(s)
	}
	c.ghostLossStreak = ghostLossStreak
}

func (c *Collector) processWrongAnswer(now time.Time, metadata map[string]string) []Signal {
	var out []Signal
	c.recentWAs = appendBounded(c.recentWAs, now, 10)
	if c.current != nil {
		c.current.WrongAnswers++
	}
	if len(c.recentWAs) >= c.cfg.WABurstCount {
		window := c.recentWAs[len(c.recentWAs)-c.cfg.WABurstCount:]
		if window[len(window)-1].Sub(window[0]) <= c.cfg.WABurstWindow {
			out = append(out, New(KindRapidWABurst, now, metadata))
		}
	}
	return out
}

func (c *Collector) processSkip(now time.Time, metadata map[string]string) []Signal {
	var out []Signal
	c.recentSkips = appendBounded(c.recentSkips, now, 10)
	if c.current != nil {
		c.current.SkippedProblems++
	}
	inWindow := 0
	for _, t := range c.recentSkips {
		if now.Sub(t) < c.cfg.SkipStreakWindow {
			inWindow++
		}
	}
	if inWindow >= c.cfg.SkipStreakCount {
		out = append(out, New(KindProblemSkipStreak, now, metadata))
	}
	return out
}

func (c *Collector) processGhostRace(now time.Time, metadata map[string]string) []Signal {
	var out []Signal
	won := metadata["won"] == "true"
	if c.current != nil {
		if won {
			c.current.GhostRacesWon++
		} else {
			c.current.GhostRacesLost++
		}
	}
	if won {
		c.ghostLossStreak = 0
		out = append(out, New(KindGhostWin, now, metadata))
	} else {
		c.ghostLossStreak++
		if c.ghostLossStreak >= c.cfg.GhostLossStreak {
			out = append(out, New(KindGhostLossStreak, now, metadata))
		}
	}
	return out
}

func (c *Collector) processHintRequest(now time.Time, metadata map[string]string) *Signal {
	if c.current == nil {
		return nil
	}
	c.current.HintsRequested++
	if c.current.ProblemsAttempted >= c.cfg.HintDependencyMinDen &&
		c.current.HintDependencyRate() > c.cfg.HintDependencyRate {
		s := New(KindHintDependency, now, metadata)
		return &s
	}
	return nil
}

func (c *Collector) processTabSwitch(now time.Time, metadata map[string]string) []Signal {
	var out []Signal
	c.tabSwitches = appendBounded(c.tabSwitches, now, 20)
	inWindow := 0
	for _, t := range c.tabSwitches {
		if now.Sub(t) < c.cfg.TabSwitchWindow {
			inWindow++
		}
	}
	if inWindow >= c.cfg.TabSwitchCount {
		out = append(out, New(KindTabAwayFrequency, now, metadata))
	}
	return out
}

func (c *Collector) checkSessionLengthDecay(now time.Time) {
	if len(c.sessions) < 3 {
		return
	}
	recent := c.sessions[len(c.sessions)-3:]
	for i := 0; i < len(recent)-1; i++ {
		if recent[i].Duration(now) <= recent[i+1].Duration(now) {
			return
		}
	}
	c.appendSignal(New(KindSessionLengthDecay, now, nil))
}

func (c *Collector) appendSignal(s Signal) {
	c.signals = append(c.signals, s)
	if len(c.signals) > c.cfg.MaxSignals {
		c.signals = c.signals[len(c.signals)-c.cfg.MaxSignals:]
	}
}

func (c *Collector) appendSession(s *Session) {
	c.sessions = append(c.sessions, s)
	if len(c.sessions) > c.cfg.MaxSessions {
		c.sessions = c.sessions[len(c.sessions)-c.cfg.MaxSessions:]
	}
}

func appendBounded(buf []time.Time, t time.Time, max int) []time.Time {
	buf = append(buf, t)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func parseDurationMeta(metadata map[string]string, key string) (time.Duration, bool) {
	v, ok := metadata[key]
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
