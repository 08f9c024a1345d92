// Package coachstate implements the five-state coaching posture machine.
// States move one step at a time along the ladder
// normal <-> watching <-> warning <-> protective <-> recovery -> normal,
// with a dwell time guarding against flapping.
package coachstate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"codecoach/internal/logging"
	"codecoach/internal/trend"
)

// State is a coaching posture.
type State string

const (
	StateNormal     State = "normal"
	StateWatching   State = "watching"
	StateWarning    State = "warning"
	StateProtective State = "protective"
	StateRecovery   State = "recovery"
)

// ParseState maps a stored string to a state, defaulting unknown values
// to normal so old snapshots import cleanly.
func ParseState(s string) State {
	switch State(s) {
	case StateNormal, StateWatching, StateWarning, StateProtective, StateRecovery:
		return State(s)
	default:
		return StateNormal
	}
}

// adjacency lists the single-step transitions allowed from each state.
var adjacency = map[State][]State{
	StateNormal:     {StateWatching},
	StateWatching:   {StateNormal, StateWarning},
	StateWarning:    {StateWatching, StateProtective},
	StateProtective: {StateWarning, StateRecovery},
	StateRecovery:   {StateProtective, StateNormal},
}

// Transition is one recorded state change.
type Transition struct {
	ID      string    `json:"id"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
	Forced  bool      `json:"forced,omitempty"`
}

// Input is the evidence evaluated on each turn.
type Input struct {
	BurnoutScore       float64
	Trend              trend.Analysis
	GhostLossStreak    int
	ConsecutiveFails   int
	SuccessfulSessions int // successful sessions while in recovery
}

// Thresholds holds the escalation bounds. De-escalation applies a
// hysteresis margin below each bound.
type Thresholds struct {
	Watching   float64 `yaml:"watching"`   // normal -> watching
	Warning    float64 `yaml:"warning"`    // watching -> warning
	Protective float64 `yaml:"protective"` // warning -> protective
}

// Config tunes the machine.
type Config struct {
	DwellTime  time.Duration `yaml:"dwell_time"`
	Thresholds Thresholds    `yaml:"thresholds"`
}

// DefaultConfig returns the standard machine constants.
func DefaultConfig() Config {
	return Config{
		DwellTime: 2 * time.Minute,
		Thresholds: Thresholds{
			Watching:   0.30,
			Warning:    0.50,
			Protective: 0.70,
		},
	}
}

// EntryFunc runs when a state is entered.
type EntryFunc func(t Transition)

// Machine evaluates evidence and walks the posture ladder. Not safe for
// concurrent use; the owning context serializes access.
type Machine struct {
	cfg Config

	state     State
	enteredAt time.Time

	transitions []Transition
	onEntry     map[State]EntryFunc

	nowFn func() time.Time
}

// NewMachine creates a machine starting in normal.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		cfg:     cfg,
		state:   StateNormal,
		onEntry: make(map[State]EntryFunc),
		nowFn:   time.Now,
	}
	m.enteredAt = m.nowFn()
	return m
}

// SetClock overrides the time source, for tests.
func (m *Machine) SetClock(fn func() time.Time) { m.nowFn = fn }

// OnEntry registers a callback run whenever the given state is entered.
func (m *Machine) OnEntry(s State, fn EntryFunc) { m.onEntry[s] = fn }

// Current returns the active state.
func (m *Machine) Current() State { return m.state }

// EnteredAt returns when the active state was entered.
func (m *Machine) EnteredAt() time.Time { return m.enteredAt }

// Transitions returns the recorded transition history, oldest first.
func (m *Machine) Transitions() []Transition { return m.transitions }

// Evaluate applies one round of evidence. Returns the transition taken,
// or nil when the machine holds its state. The dwell time blocks any
// transition until the state has been held long enough.
func (m *Machine) Evaluate(in Input) *Transition {
	now := m.nowFn()
	if now.Sub(m.enteredAt) < m.cfg.DwellTime {
		return nil
	}

	next, trigger := m.decide(in)
	if next == m.state {
		return nil
	}
	return m.transition(next, trigger, false)
}

// decide picks the target state and the trigger description. Escalation
// is checked before de-escalation.
func (m *Machine) decide(in Input) (State, string) {
	score := in.BurnoutScore
	th := m.cfg.Thresholds

	switch m.state {
	case StateNormal:
		if score >= th.Watching {
			return StateWatching, escalationTrigger(score, in.Trend)
		}
		if in.Trend.Slope > 0.1 {
			return StateWatching, fmt.Sprintf("Deteriorating trend (slope: %.3f)", in.Trend.Slope)
		}

	case StateWatching:
		if score >= th.Warning || in.GhostLossStreak >= 3 || in.ConsecutiveFails >= 3 {
			return StateWarning, escalationTrigger(score, in.Trend)
		}
		// Hysteresis margin keeps the state from flapping at the bound
		if score < th.Watching-0.05 && in.Trend.Direction != trend.DirectionDeteriorating {
			return StateNormal, fmt.Sprintf("Score improved (%.2f)", score)
		}

	case StateWarning:
		if score >= th.Protective || in.GhostLossStreak >= 5 || in.ConsecutiveFails >= 5 {
			return StateProtective, escalationTrigger(score, in.Trend)
		}
		if score < th.Warning-0.05 && in.Trend.Direction == trend.DirectionRecovering {
			return StateWatching, fmt.Sprintf("Recovering trend (slope: %.3f)", in.Trend.Slope)
		}

	case StateProtective:
		if score < th.Watching {
			return StateRecovery, fmt.Sprintf("Score improved (%.2f)", score)
		}
		if score < th.Protective-0.1 && in.Trend.Direction == trend.DirectionRecovering {
			return StateWarning, fmt.Sprintf("Recovering trend (slope: %.3f)", in.Trend.Slope)
		}

	case StateRecovery:
		if score >= th.Warning {
			return StateProtective, escalationTrigger(score, in.Trend)
		}
		if in.SuccessfulSessions >= 2 {
			return StateNormal, fmt.Sprintf("Sustained recovery (%d good sessions)", in.SuccessfulSessions)
		}
	}

	return m.state, ""
}

func escalationTrigger(score float64, tr trend.Analysis) string {
	switch {
	case score >= 0.7:
		return fmt.Sprintf("Critical burnout score (%.2f)", score)
	case score >= 0.5:
		return fmt.Sprintf("High burnout score (%.2f)", score)
	case tr.Direction == trend.DirectionDeteriorating:
		return fmt.Sprintf("Deteriorating trend (slope: %.3f)", tr.Slope)
	default:
		return fmt.Sprintf("Score threshold crossed (%.2f)", score)
	}
}

// ForceState jumps directly to the given state, bypassing adjacency and
// dwell. The jump is still recorded as a transition.
func (m *Machine) ForceState(s State, reason string) *Transition {
	if s == m.state {
		return nil
	}
	return m.transition(s, reason, true)
}

// Restore sets machine position after a snapshot import without
// recording a transition.
func (m *Machine) Restore(s State, enteredAt time.Time) {
	m.state = s
	m.enteredAt = enteredAt
}

func (m *Machine) transition(to State, trigger string, forced bool) *Transition {
	if !forced && !allowed(m.state, to) {
		logging.State("blocked transition %s -> %s", m.state, to)
		return nil
	}
	now := m.nowFn()
	t := Transition{
		ID:      uuid.NewString(),
		From:    m.state,
		To:      to,
		Trigger: trigger,
		At:      now,
		Forced:  forced,
	}
	m.state = to
	m.enteredAt = now
	m.transitions = append(m.transitions, t)

	logging.State("%s -> %s (%s)", t.From, t.To, trigger)
	if fn, ok := m.onEntry[to]; ok {
		fn(t)
	}
	return &t
}

func allowed(from, to State) bool {
	for _, s := range adjacency[from] {
		if s == to {
			return true
		}
	}
	return false
}
