// Package sentiment classifies short user messages into emotional states
// using keyword patterns, with behavioral context to unmask "I'm fine"
// style deflections.
package sentiment

import (
	"time"

	"codecoach/internal/logging"
)

// EmotionalState is the classified mood of a message.
type EmotionalState string

const (
	StateNeutral     EmotionalState = "neutral"
	StateFrustrated  EmotionalState = "frustrated"
	StateDiscouraged EmotionalState = "discouraged"
	StateFatigued    EmotionalState = "fatigued"
	StateMotivated   EmotionalState = "motivated"
	StateCelebrating EmotionalState = "celebrating"
	StateMasked      EmotionalState = "masked"
)

// ParseState maps a stored string to a state, defaulting unknown values
// to neutral so old snapshots import cleanly.
func ParseState(s string) EmotionalState {
	switch EmotionalState(s) {
	case StateNeutral, StateFrustrated, StateDiscouraged, StateFatigued,
		StateMotivated, StateCelebrating, StateMasked:
		return EmotionalState(s)
	default:
		return StateNeutral
	}
}

// IsNegative reports whether the state counts as negative for decline
// detection. Masked counts: hiding it is not feeling fine.
func (s EmotionalState) IsNegative() bool {
	switch s {
	case StateFrustrated, StateDiscouraged, StateFatigued, StateMasked:
		return true
	}
	return false
}

// Result is one analyzed message.
type Result struct {
	State           EmotionalState `json:"state"`
	Intensity       float64        `json:"intensity"`
	Confidence      float64        `json:"confidence"`
	Masking         bool           `json:"masking"`
	MatchedPatterns []string       `json:"matched_patterns,omitempty"`
	RawText         string         `json:"raw_text"`
	Timestamp       time.Time      `json:"timestamp"`
}

// BehaviorContext carries the behavioral evidence used to detect masking.
type BehaviorContext struct {
	BurnoutScore    float64
	RecentSkips     int
	GhostLossStreak int
}

const (
	maxHistory         = 50
	maxMatchedPatterns = 5
	maxRawText         = 100
)

// Analyzer classifies messages and keeps a rolling result history.
// Not safe for concurrent use; the owning context serializes access.
type Analyzer struct {
	history []Result
	nowFn   func() time.Time
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{nowFn: time.Now}
}

// SetClock overrides the time source, for tests.
func (a *Analyzer) SetClock(fn func() time.Time) { a.nowFn = fn }

// Analyze classifies one message. Empty text yields a zero-confidence
// neutral result.
func (a *Analyzer) Analyze(text string, behavior BehaviorContext) Result {
	now := a.nowFn()

	if text == "" {
		r := Result{State: StateNeutral, RawText: "", Timestamp: now}
		a.record(r)
		return r
	}

	var matched []string
	negByCat := make(map[string]int)
	posByCat := make(map[string]int)
	neg, pos := 0, 0

	for _, p := range compiledNegative {
		if p.re.MatchString(text) {
			neg++
			negByCat[p.category]++
			matched = append(matched, p.phrase)
		}
	}
	for _, p := range compiledPositive {
		if p.re.MatchString(text) {
			pos++
			posByCat[p.category]++
			matched = append(matched, p.phrase)
		}
	}

	state, intensity := classify(neg, pos, negByCat, posByCat, behavior)
	confidence := minf(1, float64(neg+pos)*0.3+0.2)

	masking := false
	if hasMaskingPhrase(text) && behaviorLooksBad(behavior) {
		state = StateMasked
		masking = true
		if confidence < 0.7 {
			confidence = 0.7
		}
	}

	if len(matched) > maxMatchedPatterns {
		matched = matched[:maxMatchedPatterns]
	}
	raw := text
	if len(raw) > maxRawText {
		raw = raw[:maxRawText]
	}

	r := Result{
		State:           state,
		Intensity:       intensity,
		Confidence:      confidence,
		Masking:         masking,
		MatchedPatterns: matched,
		RawText:         raw,
		Timestamp:       now,
	}
	a.record(r)

	logging.SentimentDebug("state=%s intensity=%.2f confidence=%.2f masking=%v matches=%d",
		state, intensity, confidence, masking, neg+pos)
	return r
}

func classify(neg, pos int, negByCat, posByCat map[string]int, behavior BehaviorContext) (EmotionalState, float64) {
	if neg == 0 && pos == 0 {
		return StateNeutral, 0.3
	}

	switch {
	case pos > neg:
		fpos := float64(pos)
		if posByCat[categoryJoy] > 0 {
			return StateCelebrating, minf(1, fpos*0.3)
		}
		if posByCat[categoryGrowth] > 0 {
			return StateMotivated, minf(1, fpos*0.25)
		}
		return StateMotivated, minf(1, fpos*0.2)

	case neg > pos:
		fneg := float64(neg)
		if negByCat[categoryGivingUp] > 0 {
			return StateDiscouraged, minf(1, fneg*0.35)
		}
		if negByCat[categorySelfDoubt] > 0 {
			return StateDiscouraged, minf(1, fneg*0.3)
		}
		if negByCat[categoryFatigue] > 0 {
			return StateFatigued, minf(1, fneg*0.25)
		}
		return StateFrustrated, minf(1, fneg*0.3)

	default:
		// Mixed message: behavior breaks the tie
		if behavior.BurnoutScore > 0.5 {
			return StateFrustrated, 0.4
		}
		return StateNeutral, 0.3
	}
}

func hasMaskingPhrase(text string) bool {
	for _, re := range compiledMasking {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func behaviorLooksBad(b BehaviorContext) bool {
	return b.BurnoutScore > 0.5 || b.RecentSkips >= 3 || b.GhostLossStreak >= 3
}

func (a *Analyzer) record(r Result) {
	a.history = append(a.history, r)
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
}

// History returns analyzed results, oldest first.
func (a *Analyzer) History() []Result { return a.history }

// Recent returns the last n results, oldest first.
func (a *Analyzer) Recent(n int) []Result {
	if len(a.history) <= n {
		return a.history
	}
	return a.history[len(a.history)-n:]
}

// RestoreHistory replaces the history after a snapshot import.
func (a *Analyzer) RestoreHistory(results []Result) {
	a.history = nil
	for _, r := range results {
		a.record(r)
	}
}

// Declining reports whether negative states are becoming more frequent
// within the window: the second half must contain strictly more negative
// results than the first. Needs at least 4 results.
func (a *Analyzer) Declining(window int) bool {
	recent := a.Recent(window)
	if len(recent) < 4 {
		return false
	}
	mid := len(recent) / 2
	first, second := 0, 0
	for i, r := range recent {
		if !r.State.IsNegative() {
			continue
		}
		if i < mid {
			first++
		} else {
			second++
		}
	}
	return second > first
}

// Distribution counts history results per state.
func (a *Analyzer) Distribution() map[EmotionalState]int {
	dist := make(map[EmotionalState]int)
	for _, r := range a.history {
		dist[r.State]++
	}
	return dist
}

// AverageIntensity averages intensity over the history, 0 when empty.
func (a *Analyzer) AverageIntensity() float64 {
	if len(a.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range a.history {
		sum += r.Intensity
	}
	return sum / float64(len(a.history))
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
