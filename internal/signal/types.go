// Package signal normalizes raw activity events into weighted behavioral
// signals and detects compound patterns (bursts, streaks) from short
// event history.
package signal

import (
	"time"
)

// Kind identifies a behavioral signal type.
type Kind string

const (
	// Negative signals (raise the burnout score)
	KindRapidWABurst           Kind = "rapid_wa_burst"               // 3+ wrong answers in under 2 min
	KindSubmissionThenSilence  Kind = "submission_then_silence"      // submit, then no activity 15+ min
	KindProblemSkipStreak      Kind = "problem_skip_streak"          // 3+ problems opened then abandoned
	KindSessionLengthDecay     Kind = "session_length_decay"         // sessions getting shorter
	KindGhostLossStreak        Kind = "ghost_loss_streak"            // 3+ consecutive ghost race losses
	KindSessionGapGrowth       Kind = "time_between_sessions_growth" // gaps between sessions widening
	KindHintDependency         Kind = "hint_dependency"              // hints requested on >60% of problems
	KindIdleOnProblem          Kind = "idle_on_problem"              // problem open 20+ min, no submission
	KindCopyPasteDetection     Kind = "copy_paste_detection"         // code pasted from external source
	KindTabAwayFrequency       Kind = "tab_away_frequency"           // switching away repeatedly

	// Positive signals (offset burnout, used for recovery detection)
	KindSuccessfulSolve    Kind = "successful_solve"
	KindGhostWin           Kind = "ghost_win"
	KindHintDeclined       Kind = "hint_declined"
	KindLongFocusedSession Kind = "long_focused_session"
)

// Weights maps each signal kind to its burnout contribution.
// Positive signals carry negative weights.
var Weights = map[Kind]float64{
	KindRapidWABurst:          0.15,
	KindSubmissionThenSilence: 0.20,
	KindProblemSkipStreak:     0.18,
	KindSessionLengthDecay:    0.12,
	KindGhostLossStreak:       0.20,
	KindSessionGapGrowth:      0.10,
	KindHintDependency:        0.08,
	KindIdleOnProblem:         0.12,
	KindCopyPasteDetection:    0.10,
	KindTabAwayFrequency:      0.05,

	KindSuccessfulSolve:    -0.15,
	KindGhostWin:           -0.20,
	KindHintDeclined:       -0.05,
	KindLongFocusedSession: -0.10,
}

// Signal is a single weighted, timestamped behavioral observation.
// Immutable once created.
type Signal struct {
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Weight    float64           `json:"weight"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// New creates a signal with the standard weight for its kind.
func New(kind Kind, ts time.Time, metadata map[string]string) Signal {
	return Signal{
		Kind:      kind,
		Timestamp: ts,
		Weight:    Weights[kind],
		Metadata:  metadata,
	}
}

// Session aggregates activity counters for one sitting.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	ProblemsAttempted int        `json:"problems_attempted"`
	ProblemsSolved    int        `json:"problems_solved"`
	GhostRacesWon     int        `json:"ghost_races_won"`
	GhostRacesLost    int        `json:"ghost_races_lost"`
	HintsRequested    int        `json:"hints_requested"`
	WrongAnswers      int        `json:"wrong_answers"`
	SkippedProblems   int        `json:"skipped_problems"`
}

// Duration returns elapsed session time, using now for an open session.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// SolveRate is solved/attempted, 0 when nothing was attempted.
func (s *Session) SolveRate() float64 {
	if s.ProblemsAttempted == 0 {
		return 0
	}
	return float64(s.ProblemsSolved) / float64(s.ProblemsAttempted)
}

// HintDependencyRate is hints/attempted, 0 when nothing was attempted.
func (s *Session) HintDependencyRate() float64 {
	if s.ProblemsAttempted == 0 {
		return 0
	}
	return float64(s.HintsRequested) / float64(s.ProblemsAttempted)
}
