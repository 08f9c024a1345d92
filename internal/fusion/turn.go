package fusion

import (
	"context"
	"strings"
	"time"

	"codecoach/internal/coachstate"
	"codecoach/internal/enrichment"
	"codecoach/internal/intervene"
	"codecoach/internal/logging"
	"codecoach/internal/scorer"
	"codecoach/internal/sentiment"
	"codecoach/internal/trend"
)

// TurnResult is the full assessment produced by one fusion turn.
type TurnResult struct {
	BurnoutScore      float64                 `json:"burnout_score"`
	BurnoutLevel      scorer.Level            `json:"burnout_level"`
	TextScore         float64                 `json:"text_score"`
	CompositeScore    float64                 `json:"composite_score"`
	Trend             trend.Analysis          `json:"trend"`
	CoachState        coachstate.State        `json:"coach_state"`
	Transition        *coachstate.Transition  `json:"transition,omitempty"`
	Alignment         Alignment               `json:"alignment"`
	InterventionLevel InterventionLevel       `json:"intervention_level"`
	Intervention      *intervene.Intervention `json:"intervention,omitempty"`
	Insights          *enrichment.Insights    `json:"insights,omitempty"`
	GhostSpeed        float64                 `json:"ghost_speed"`
	NeedsAttention    bool                    `json:"needs_attention"`
	Actions           []string                `json:"actions,omitempty"`
	CoachResponse     string                  `json:"coach_response,omitempty"`
	Metrics           WellnessMetrics         `json:"metrics"`
}

// phrases whose surface reading is unreliable; they push a message to
// deep analysis even when the keyword layer is confident.
var complexPhrases = []string{
	"i'm fine", "it's okay", "whatever", "doesn't matter", "i guess",
	"maybe", "i don't know", "tired", "should i", "am i",
	"why can't", "everyone else", "give up",
}

// RunTurn performs one fusion pass: silence probes, scoring, trend,
// state machine, behavior/text alignment, optional enrichment, and
// intervention selection.
func (c *Context) RunTurn(ctx context.Context) *TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Periodic probes fire before scoring so fresh signals count.
	c.collector.CheckSilenceAfterSubmission()

	signals := c.collector.Signals()
	burnout := c.scorer.Score(signals)
	c.lastBurnout = burnout
	level := c.scorer.Level(burnout)

	tr := c.trends.Analyze(c.scorer.SessionScores())

	transition := c.machine.Evaluate(coachstate.Input{
		BurnoutScore:       burnout,
		Trend:              tr,
		GhostLossStreak:    c.collector.GhostLossStreak(),
		ConsecutiveFails:   c.failuresSinceMsg,
		SuccessfulSessions: c.recoverySuccesses,
	})
	if transition != nil {
		c.selector.OnStateChange(transition.To)
	}
	state := c.machine.Current()

	textScore := c.textScore()
	alignment := c.alignment(burnout, textScore)
	if c.silentlyDisengaged(burnout) && alignment != AlignmentMasking {
		alignment = AlignmentSilentDisengage
	}

	composite := compositeScore(burnout, textScore, tr.Slope)

	insights := c.maybeEnrich(ctx, burnout, textScore, alignment)
	if insights != nil {
		composite = clamp01(composite + insightAdjustment(*insights))
		if insights.EmotionalState == sentiment.StateMasked {
			alignment = AlignmentMasking
		}
	}
	c.lastComposite = composite

	ivLevel := interventionLevel(state, alignment, composite)
	archDet := c.failures.Detect()
	intervention := c.selector.Select(intervene.Input{
		State:        state,
		BurnoutScore: burnout,
		BurnoutLevel: level,
		Realtime:     c.live.RecentDetections(2*time.Minute, 0.5),
		Archetype:    archDet,
		ActiveCount:  len(c.live.ActiveSignals()),
	})

	r := &TurnResult{
		BurnoutScore:      burnout,
		BurnoutLevel:      level,
		TextScore:         textScore,
		CompositeScore:    composite,
		Trend:             tr,
		CoachState:        state,
		Transition:        transition,
		Alignment:         alignment,
		InterventionLevel: ivLevel,
		Intervention:      intervention,
		Insights:          insights,
		GhostSpeed:        ghostSpeed(state, composite),
		NeedsAttention:    composite >= 0.7 || alignment == AlignmentMasking || state == coachstate.StateProtective,
		Metrics:           c.wellnessMetrics(),
	}
	r.Actions = recommendedActions(r)
	r.CoachResponse = c.coachResponse(r)

	c.logTurn(r)
	return r
}

// textScore averages sentiment polarity over the last five messages.
func (c *Context) textScore() float64 {
	recent := c.analyzer.Recent(5)
	if len(recent) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range recent {
		if r.State == sentiment.StateMasked {
			sum += maskedTextScore
			continue
		}
		sum += textScoreValues[r.State] * r.Intensity
	}
	avg := sum / float64(len(recent))
	if avg < -1 {
		return -1
	}
	if avg > 1 {
		return 1
	}
	return avg
}

// alignment classifies the behavior/text relationship. Behavior below
// 0.4 reads as fine; beyond it the words have to explain themselves.
func (c *Context) alignment(burnout, textScore float64) Alignment {
	behaviorOk := burnout < 0.4
	textPositive := textScore > 0.2
	textNegative := textScore < -0.2
	anyMasked := false
	for _, r := range c.analyzer.Recent(5) {
		if r.Masking {
			anyMasked = true
			break
		}
	}

	switch {
	case behaviorOk && textPositive:
		return AlignmentGenuineGood
	case behaviorOk && textNegative:
		return AlignmentVentingOk
	case !behaviorOk && (textPositive || anyMasked):
		return AlignmentMasking
	case !behaviorOk && textNegative:
		return AlignmentConfirmedBurnout
	case !behaviorOk && len(c.analyzer.History()) == 0:
		return AlignmentSilentDisengage
	case !behaviorOk:
		return AlignmentConfirmedBurnout
	default:
		return AlignmentGenuineGood
	}
}

// silentlyDisengaged is the canonical silence check: struggling behavior
// plus no recent message plus failures piling up since the last one.
func (c *Context) silentlyDisengaged(burnout float64) bool {
	if burnout < 0.4 {
		return false
	}
	if c.lastMessageAt != nil {
		return c.nowFn().Sub(*c.lastMessageAt) > 10*time.Minute && c.failuresSinceMsg >= 3
	}
	return c.failuresSinceMsg >= 5
}

func compositeScore(burnout, textScore, slope float64) float64 {
	// Text polarity [-1, 1] maps to badness [0, 1]
	textBadness := (1 - textScore) / 2
	trendBadness := clamp01(2 * slope)
	return clamp01(behaviorWeight*burnout + textWeight*textBadness + trendWeight*trendBadness)
}

// insightAdjustment converts model insights to a composite nudge.
func insightAdjustment(in enrichment.Insights) float64 {
	switch in.EmotionalState {
	case sentiment.StateMasked:
		if in.Intensity > 0.7 {
			return 0.15
		}
	case sentiment.StateFatigued:
		if in.Intensity > 0.6 {
			return 0.10
		}
	case sentiment.StateFrustrated:
		if in.Intensity > 0.6 {
			return 0.08
		}
	case sentiment.StateDiscouraged:
		if in.Intensity > 0.7 {
			return 0.12
		}
	case sentiment.StateMotivated, sentiment.StateCelebrating:
		if in.Intensity > 0.5 {
			return -0.10
		}
	}
	return 0
}

// maybeEnrich runs deep analysis when the triage heuristic says the
// surface reading is unreliable. Any failure is non-fatal.
func (c *Context) maybeEnrich(ctx context.Context, burnout, textScore float64, alignment Alignment) *enrichment.Insights {
	if c.enricher == nil || !c.enricher.Available() {
		return nil
	}
	if !needsDeepAnalysis(burnout, textScore, alignment, c.lastMessage) {
		return nil
	}

	var kinds []string
	for _, s := range c.collector.RecentSignals(10 * time.Minute) {
		kinds = append(kinds, string(s.Kind))
	}
	req := enrichment.Request{
		Message:       c.lastMessage,
		BurnoutScore:  burnout,
		CoachState:    string(c.machine.Current()),
		RecentSignals: kinds,
	}
	if recent := c.analyzer.Recent(1); len(recent) > 0 {
		req.KeywordState = recent[0].State
	}

	ectx, cancel := context.WithTimeout(ctx, c.enrichmentTimeout)
	defer cancel()
	in, err := c.enricher.Analyze(ectx, req)
	if err != nil {
		logging.FusionWarn("enrichment failed, using heuristic fallback: %v", err)
		fb := enrichment.Fallback(req)
		return &fb
	}
	return &in
}

func needsDeepAnalysis(burnout, textScore float64, alignment Alignment, message string) bool {
	if burnout > 0.6 || alignment == AlignmentMasking {
		return true
	}
	if burnout >= 0.4 && burnout <= 0.6 && textScore >= -0.1 && textScore <= 0.1 {
		return true
	}
	lower := strings.ToLower(message)
	for _, phrase := range complexPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func interventionLevel(state coachstate.State, alignment Alignment, composite float64) InterventionLevel {
	level := LevelNone
	switch state {
	case coachstate.StateWatching:
		level = LevelMonitor
	case coachstate.StateWarning:
		level = LevelGentle
	case coachstate.StateProtective:
		level = LevelActive
	case coachstate.StateRecovery:
		level = LevelGentle
	}

	if alignment == AlignmentMasking {
		level = maxLevel(level, LevelActive)
	}
	if alignment == AlignmentSilentDisengage {
		level = maxLevel(level, LevelGentle)
	}
	if composite >= 0.7 {
		level = LevelUrgent
	} else if composite >= 0.5 {
		level = maxLevel(level, LevelActive)
	}
	return level
}

// ghostSpeed slows the racing ghost as the user degrades. A ghost that
// keeps winning against a tilted user makes everything worse.
func ghostSpeed(state coachstate.State, composite float64) float64 {
	speed := ghostSpeedByState[state]
	if composite > 0.7 {
		speed *= 0.5
	} else if composite > 0.5 {
		speed *= 0.7
	}
	return speed
}

// recommendedActions builds the coach's action list, most urgent first,
// capped at five.
func recommendedActions(r *TurnResult) []string {
	var actions []string

	switch r.Alignment {
	case AlignmentMasking:
		actions = append(actions,
			"PROBE: Ask how user is actually feeling",
			"VALIDATE: Acknowledge that it's okay to struggle")
	case AlignmentSilentDisengage:
		actions = append(actions,
			"INITIATE: Reach out to user",
			"OFFER: Suggest something fun instead of hard")
	case AlignmentConfirmedBurnout:
		actions = append(actions,
			"VALIDATE: Acknowledge frustration",
			"HUMANIZE: Share idol's similar struggles")
	}

	switch r.CoachState {
	case coachstate.StateProtective:
		actions = append(actions,
			"SUGGEST: Offer rest break",
			"MODE: Enable cooperative ghost",
			"CELEBRATE: Small wins only")
	case coachstate.StateWarning:
		actions = append(actions,
			"SLOW: Reduce ghost speed",
			"REFRAME: This problem is tough for everyone")
	case coachstate.StateRecovery:
		actions = append(actions,
			"ENCOURAGE: Gentle positive reinforcement",
			"EASY: Suggest easier problems")
	}

	if r.InterventionLevel == LevelUrgent {
		actions = append([]string{"IMMEDIATE: Stop and check in with user"}, actions...)
	}
	if len(actions) > 5 {
		actions = actions[:5]
	}
	return actions
}

// coachResponse picks the coach's opening line for the current spot.
func (c *Context) coachResponse(r *TurnResult) string {
	switch {
	case r.Alignment == AlignmentMasking:
		return "Hey, I noticed you've been struggling. It's okay to take a break - even pros need them."
	case r.CompositeScore > 0.7:
		return "You're tilting. Let's pause and reset. The problems will still be here in ten minutes."
	case r.CoachState == coachstate.StateProtective:
		return "Let's slow down. How about we try an easier problem to get back in rhythm?"
	case r.CoachState == coachstate.StateWarning:
		return "I see you're hitting some walls. That's where the learning happens - want to talk through it?"
	case r.Alignment == AlignmentSilentDisengage:
		return "Haven't heard from you in a while. How's it going? Need a hint?"
	default:
		return ""
	}
}

// TemporalComparison relates the present moment to the session so far.
type TemporalComparison struct {
	CurrentVsSessionAvg float64 `json:"current_vs_session_avg"` // >1.3 is concerning
	MessageToneChange   float64 `json:"message_tone_change"`    // negative = tone worsening
}

// Compare computes how the current composite relates to the session
// average and how message tone has shifted across the history.
func (c *Context) Compare() TemporalComparison {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cmp TemporalComparison

	peaks := c.scorer.SessionScores()
	if len(peaks) > 0 {
		sum := 0.0
		for _, p := range peaks {
			sum += p
		}
		avg := sum / float64(len(peaks))
		if avg > 0 {
			cmp.CurrentVsSessionAvg = c.lastComposite / avg
		}
	}

	history := c.analyzer.History()
	if len(history) >= 2 {
		first := history
		if len(first) > 5 {
			first = first[:5]
		}
		last := history
		if len(last) > 5 {
			last = last[len(last)-5:]
		}
		cmp.MessageToneChange = (toneAvg(last) - toneAvg(first)) * 50
	}
	return cmp
}

func toneAvg(results []sentiment.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		switch {
		case r.State.IsNegative():
			sum--
		case r.State == sentiment.StateMotivated || r.State == sentiment.StateCelebrating:
			sum++
		}
	}
	return sum / float64(len(results))
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
