package fusion

import (
	"time"

	"codecoach/internal/coachstate"
	"codecoach/internal/sentiment"
	"codecoach/internal/signal"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the serializable form of a Context. Enum fields are plain
// strings so unknown values from older or newer writers degrade to safe
// defaults on import instead of failing.
type Snapshot struct {
	Version    int       `json:"version"`
	UserID     string    `json:"user_id"`
	ExportedAt time.Time `json:"exported_at"`

	BurnoutScore   float64   `json:"burnout_score"`
	CompositeScore float64   `json:"composite_score"`
	CoachState     string    `json:"coach_state"`
	StateEnteredAt time.Time `json:"state_entered_at"`

	EmotionalTrend []string `json:"emotional_trend,omitempty"` // last 5 states

	Metrics WellnessMetrics `json:"metrics"`

	FailuresSinceMessage int        `json:"failures_since_message"`
	GhostLossStreak      int        `json:"ghost_loss_streak"`
	RecoverySuccesses    int        `json:"recovery_successes"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`

	Signals    []signal.Signal    `json:"signals,omitempty"`    // last 20
	Sentiments []sentiment.Result `json:"sentiments,omitempty"` // last 10
}

// Export captures the context state for persistence.
func (c *Context) Export() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	signals := c.collector.Signals()
	if len(signals) > 20 {
		signals = signals[len(signals)-20:]
	}
	sentiments := c.analyzer.Recent(10)

	var trendStates []string
	for _, r := range c.analyzer.Recent(5) {
		trendStates = append(trendStates, string(r.State))
	}

	return Snapshot{
		Version:    SnapshotVersion,
		UserID:     c.userID,
		ExportedAt: c.nowFn(),

		BurnoutScore:   c.lastBurnout,
		CompositeScore: c.lastComposite,
		CoachState:     string(c.machine.Current()),
		StateEnteredAt: c.machine.EnteredAt(),

		EmotionalTrend: trendStates,
		Metrics:        c.wellnessMetrics(),

		FailuresSinceMessage: c.failuresSinceMsg,
		GhostLossStreak:      c.collector.GhostLossStreak(),
		RecoverySuccesses:    c.recoverySuccesses,
		LastMessageAt:        c.lastMessageAt,

		Signals:    append([]signal.Signal(nil), signals...),
		Sentiments: append([]sentiment.Result(nil), sentiments...),
	}
}

// Import restores context state from a snapshot. Unknown enum strings
// fall back to normal/neutral; the restored state carries its original
// entry time so dwell accounting survives the round trip.
func (c *Context) Import(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastBurnout = s.BurnoutScore
	c.lastComposite = s.CompositeScore
	c.scorer.Restore(s.BurnoutScore)

	enteredAt := s.StateEnteredAt
	if enteredAt.IsZero() {
		enteredAt = c.nowFn()
	}
	c.machine.Restore(coachstate.ParseState(s.CoachState), enteredAt)

	restored := make([]signal.Signal, 0, len(s.Signals))
	for _, sig := range s.Signals {
		// Unknown kinds carry zero weight and are dropped
		if _, ok := signal.Weights[sig.Kind]; ok {
			restored = append(restored, sig)
		}
	}
	c.collector.Restore(restored, s.GhostLossStreak)

	sentiments := make([]sentiment.Result, 0, len(s.Sentiments))
	for _, r := range s.Sentiments {
		r.State = sentiment.ParseState(string(r.State))
		sentiments = append(sentiments, r)
	}
	c.analyzer.RestoreHistory(sentiments)

	c.failuresSinceMsg = s.FailuresSinceMessage
	c.recoverySuccesses = s.RecoverySuccesses
	c.lastMessageAt = s.LastMessageAt
}
