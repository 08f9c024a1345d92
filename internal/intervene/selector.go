// Package intervene selects at most one coaching intervention per turn,
// rate-limited by per-state cooldowns and caps. Candidate sources are
// consulted in priority order: burnout severity, then live coding
// detections, then failure archetypes, then a per-state filler.
package intervene

import (
	"time"

	"codecoach/internal/archetype"
	"codecoach/internal/coachstate"
	"codecoach/internal/logging"
	"codecoach/internal/realtime"
	"codecoach/internal/scorer"
)

// Type classifies an intervention.
type Type string

const (
	TypeRestSuggestion Type = "rest_suggestion"
	TypeWarning        Type = "warning"
	TypeQuestion       Type = "question"
	TypeSlowDown       Type = "slow_down"
	TypeStepBack       Type = "step_back"
	TypeReframe        Type = "reframe"
	TypeModernization  Type = "modernization"
	TypeHint           Type = "hint"
	TypeAlgorithmNudge Type = "algorithm_nudge"
	TypeArchetypeNudge Type = "archetype_nudge"
	TypeEncouragement  Type = "encouragement"
)

// Intervention is one selected coaching action.
type Intervention struct {
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	Priority    int       `json:"priority"`
	TriggeredBy string    `json:"triggered_by"`
	At          time.Time `json:"at"`
}

// Input is the evidence the selector weighs on one turn.
type Input struct {
	State        coachstate.State
	BurnoutScore float64
	BurnoutLevel scorer.Level
	Realtime     []realtime.Detection
	Archetype    *archetype.Detection
	ActiveCount  int // distinct active realtime signal kinds
}

// Config holds per-state rate limits.
type Config struct {
	Cooldowns   map[coachstate.State]time.Duration `yaml:"cooldowns"`
	MaxPerState map[coachstate.State]int           `yaml:"max_per_state"`
}

// DefaultConfig returns the standard rate limits.
func DefaultConfig() Config {
	return Config{
		Cooldowns: map[coachstate.State]time.Duration{
			coachstate.StateNormal:     30 * time.Minute,
			coachstate.StateWatching:   15 * time.Minute,
			coachstate.StateWarning:    3 * time.Minute,
			coachstate.StateProtective: 1 * time.Minute,
			coachstate.StateRecovery:   5 * time.Minute,
		},
		MaxPerState: map[coachstate.State]int{
			coachstate.StateNormal:     1,
			coachstate.StateWatching:   1,
			coachstate.StateWarning:    2,
			coachstate.StateProtective: 5,
			coachstate.StateRecovery:   2,
		},
	}
}

var archetypeMessages = map[archetype.Archetype]string{
	archetype.BruteForcer:   "You're over-enumerating. What constraint can you exploit?",
	archetype.PatternChaser: "This isn't a template problem. What's unique about it?",
	archetype.Hesitator:     "You have the right idea. Trust it and implement.",
	archetype.SpeedDemon:    "Slow down. Speed comes from clarity, not rushing.",
	archetype.Overfitter:    "You're patching symptoms. Re-derive the invariant first.",
	archetype.Avoider:       "Pick one problem and stay with it to the end.",
	archetype.Perfectionist: "A working rough solution beats a perfect unsubmitted one.",
}

// Selector rate-limits and prioritizes interventions. Not safe for
// concurrent use; the owning context serializes access.
type Selector struct {
	cfg Config

	counts map[coachstate.State]int
	last   map[coachstate.State]time.Time

	history []Intervention

	nowFn func() time.Time
}

// NewSelector creates a selector.
func NewSelector(cfg Config) *Selector {
	return &Selector{
		cfg:    cfg,
		counts: make(map[coachstate.State]int),
		last:   make(map[coachstate.State]time.Time),
		nowFn:  time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Selector) SetClock(fn func() time.Time) { s.nowFn = fn }

// OnStateChange resets the intervention budget for the newly entered state.
func (s *Selector) OnStateChange(newState coachstate.State) {
	s.counts[newState] = 0
}

// History returns delivered interventions, oldest first.
func (s *Selector) History() []Intervention { return s.history }

// Select returns the highest-priority intervention allowed right now,
// or nil when rate limits or evidence say stay quiet.
func (s *Selector) Select(in Input) *Intervention {
	now := s.nowFn()
	critical := in.BurnoutLevel == scorer.LevelCritical

	if !s.allowed(in.State, now, critical) {
		return nil
	}

	// In normal state, stay out of the way unless several live signals
	// stack up or burnout turned critical.
	if in.State == coachstate.StateNormal && in.ActiveCount < 2 && !critical {
		return nil
	}

	iv := s.pick(in)
	if iv == nil {
		return nil
	}
	iv.At = now

	s.counts[in.State]++
	s.last[in.State] = now
	s.history = append(s.history, *iv)

	logging.Intervene("%s (priority %d) via %s in state %s", iv.Type, iv.Priority, iv.TriggeredBy, in.State)
	return iv
}

func (s *Selector) allowed(state coachstate.State, now time.Time, critical bool) bool {
	// Cooldown holds unconditionally; even critical burnout does not
	// justify talking over the previous intervention.
	if last, ok := s.last[state]; ok {
		if now.Sub(last) < s.cfg.Cooldowns[state] {
			return false
		}
	}
	if s.counts[state] >= s.cfg.MaxPerState[state] {
		// Critical burnout overrides the cap everywhere except
		// protective, which is already at maximum involvement.
		if !critical || state == coachstate.StateProtective {
			return false
		}
	}
	return true
}

func (s *Selector) pick(in Input) *Intervention {
	if iv := burnoutCandidate(in); iv != nil {
		return iv
	}
	if iv := realtimeCandidate(in.Realtime); iv != nil {
		return iv
	}
	if iv := archetypeCandidate(in.Archetype); iv != nil {
		return iv
	}
	return fillerCandidate(in.State)
}

func burnoutCandidate(in Input) *Intervention {
	switch in.BurnoutLevel {
	case scorer.LevelCritical:
		return &Intervention{
			Type:        TypeRestSuggestion,
			Message:     "You've been grinding hard. A short break now will save you an hour of tilt.",
			Priority:    10,
			TriggeredBy: "burnout:critical",
		}
	case scorer.LevelHigh:
		return &Intervention{
			Type:        TypeWarning,
			Message:     "Rough stretch. Want to switch to something lighter for a bit?",
			Priority:    8,
			TriggeredBy: "burnout:high",
		}
	}
	return nil
}

var realtimeCandidates = map[realtime.Kind]Intervention{
	realtime.KindTypingBurst: {
		Type: TypeSlowDown, Priority: 7,
		Message: "You're typing faster than you're thinking. What's the plan?",
	},
	realtime.KindEarlyBruteForce: {
		Type: TypeStepBack, Priority: 7,
		Message: "Nested loops already? Read the constraints once more first.",
	},
	realtime.KindTypingSpeedDrop: {
		Type: TypeQuestion, Priority: 6,
		Message: "You've slowed down. Where exactly are you stuck?",
	},
	realtime.KindFullRewrite: {
		Type: TypeStepBack, Priority: 6,
		Message: "Third rewrite of the same code. The approach is the problem, not the typing.",
	},
	realtime.KindLengthExplosion: {
		Type: TypeReframe, Priority: 6,
		Message: "The solution keeps growing. Step back and simplify the idea.",
	},
	realtime.KindAlgorithmDelay: {
		Type: TypeAlgorithmNudge, Priority: 6,
		Message: "This one wants a table. What's the state and the transition?",
	},
	realtime.KindOutdatedPattern: {
		Type: TypeModernization, Priority: 5,
		Message: "That's a C-era idiom. The standard library does this safely.",
	},
	realtime.KindNoDataStructures: {
		Type: TypeHint, Priority: 5,
		Message: "A lot of code and no containers. Would a map collapse most of it?",
	},
}

func realtimeCandidate(dets []realtime.Detection) *Intervention {
	var best *Intervention
	for _, det := range dets {
		cand, ok := realtimeCandidates[det.Kind]
		if !ok {
			continue
		}
		if best == nil || cand.Priority > best.Priority {
			c := cand
			c.TriggeredBy = "realtime:" + string(det.Kind)
			best = &c
		}
	}
	return best
}

func archetypeCandidate(det *archetype.Detection) *Intervention {
	if det == nil || det.Confidence < 0.6 {
		return nil
	}
	msg, ok := archetypeMessages[det.Archetype]
	if !ok {
		return nil
	}
	return &Intervention{
		Type:        TypeArchetypeNudge,
		Message:     msg,
		Priority:    4,
		TriggeredBy: "archetype:" + string(det.Archetype),
	}
}

func fillerCandidate(state coachstate.State) *Intervention {
	switch state {
	case coachstate.StateWarning:
		return &Intervention{
			Type:        TypeReframe,
			Message:     "You're struggling. Let's decompose this step by step.",
			Priority:    2,
			TriggeredBy: "state:warning",
		}
	case coachstate.StateRecovery:
		return &Intervention{
			Type:        TypeEncouragement,
			Message:     "Better. Trust the process.",
			Priority:    2,
			TriggeredBy: "state:recovery",
		}
	}
	return nil
}
