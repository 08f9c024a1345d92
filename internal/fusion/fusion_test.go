package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codecoach/internal/coachstate"
	"codecoach/internal/enrichment"
	"codecoach/internal/sentiment"
	"codecoach/internal/signal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func newTestContext(opts ...Option) (*Context, *time.Time) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewContext("u1", append([]Option{WithClock(clock)}, opts...)...)
	return c, &now
}

// tilt drives the context into visibly bad behavior: a WA burst plus a
// ghost loss streak.
func tilt(c *Context, now *time.Time) {
	c.StartSession()
	for i := 0; i < 3; i++ {
		c.RecordEvent(signal.EventWrongAnswer, nil)
		*now = now.Add(20 * time.Second)
	}
	for i := 0; i < 5; i++ {
		c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})
	}
}

func TestQuietTurn(t *testing.T) {
	c, _ := newTestContext()
	c.StartSession()

	r := c.RunTurn(context.Background())
	assert.Equal(t, 0.0, r.BurnoutScore)
	assert.Equal(t, coachstate.StateNormal, r.CoachState)
	assert.Equal(t, AlignmentGenuineGood, r.Alignment)
	assert.Equal(t, LevelNone, r.InterventionLevel)
	assert.Equal(t, 1.0, r.GhostSpeed)
	assert.Nil(t, r.Intervention)
	assert.False(t, r.NeedsAttention)
}

func TestConfirmedBurnout(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)
	c.RecordMessage("i hate this, i give up")

	r := c.RunTurn(context.Background())
	assert.Greater(t, r.BurnoutScore, 0.4)
	assert.Equal(t, AlignmentConfirmedBurnout, r.Alignment)
	assert.Contains(t, r.Actions, "VALIDATE: Acknowledge frustration")
}

func TestVentingIsOk(t *testing.T) {
	c, _ := newTestContext()
	c.StartSession()
	c.RecordMessage("ugh this problem is so confusing")

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentVentingOk, r.Alignment)
	assert.Equal(t, LevelNone, r.InterventionLevel)
}

func TestGenuineGood(t *testing.T) {
	c, _ := newTestContext()
	c.StartSession()
	c.RecordEvent(signal.EventProblemSolved, nil)
	c.RecordMessage("let's go, that was awesome")

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentGenuineGood, r.Alignment)
}

func TestMaskingDetection(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)
	res := c.RecordMessage("i'm fine, no problem")
	require.True(t, res.Masking, "ghost loss streak should unmask the message")

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentMasking, r.Alignment)
	assert.True(t, r.NeedsAttention)
	assert.GreaterOrEqual(t, levelRank[r.InterventionLevel], levelRank[LevelActive])
	assert.Contains(t, r.Actions, "PROBE: Ask how user is actually feeling")
	assert.Contains(t, r.CoachResponse, "okay to take a break")
}

func TestSilentDisengagement(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now) // five ghost losses = five failures, no message ever

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentSilentDisengage, r.Alignment)
	assert.GreaterOrEqual(t, levelRank[r.InterventionLevel], levelRank[LevelGentle])
	assert.Contains(t, r.Actions, "INITIATE: Reach out to user")
}

func TestSilentDisengagementTimeBased(t *testing.T) {
	c, now := newTestContext()
	c.StartSession()
	c.RecordMessage("starting now")

	tilt(c, now)
	*now = now.Add(15 * time.Minute)
	// Fresh losses keep the behavioral score above the silence gate
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentSilentDisengage, r.Alignment)
}

func TestMessageResetsFailureCount(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)
	c.RecordMessage("still here, just grinding")
	*now = now.Add(15 * time.Minute)
	// Only two failures since the message, under the silence threshold
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})

	r := c.RunTurn(context.Background())
	assert.NotEqual(t, AlignmentSilentDisengage, r.Alignment,
		"failures before the message should not count")
}

func TestCompositeWeighting(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)

	r := c.RunTurn(context.Background())
	// No messages: text badness is the neutral 0.5; slope is 0 on the
	// first session.
	want := 0.65*r.BurnoutScore + 0.25*0.5
	assert.InDelta(t, want, r.CompositeScore, 1e-6)
}

func TestGhostSpeedSlowsWithComposite(t *testing.T) {
	assert.Equal(t, 1.0, ghostSpeed(coachstate.StateNormal, 0.3))
	assert.InDelta(t, 0.7, ghostSpeed(coachstate.StateNormal, 0.6), 1e-9)
	assert.InDelta(t, 0.5, ghostSpeed(coachstate.StateNormal, 0.8), 1e-9)
	assert.InDelta(t, 0.15, ghostSpeed(coachstate.StateProtective, 0.8), 1e-9)
}

func TestStateEscalationAcrossTurns(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)

	r := c.RunTurn(context.Background())
	require.Equal(t, coachstate.StateNormal, r.CoachState, "dwell holds the first turn")

	*now = now.Add(3 * time.Minute)
	// Keep the pressure on so the score stays up
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})
	r = c.RunTurn(context.Background())
	assert.Equal(t, coachstate.StateWatching, r.CoachState)
	require.NotNil(t, r.Transition)

	*now = now.Add(3 * time.Minute)
	c.RecordEvent(signal.EventGhostRaceResult, map[string]string{"won": "false"})
	r = c.RunTurn(context.Background())
	assert.Equal(t, coachstate.StateWarning, r.CoachState)
}

func TestEnrichmentAdjustsComposite(t *testing.T) {
	maskedInsights := &stubGenerator{response: `{"emotional_state": "masked", "intensity": 0.9, "intervention_needed": true}`}
	c, now := newTestContext(WithEnrichment(enrichment.NewWithGenerator(maskedInsights), time.Second))

	tilt(c, now)
	c.RecordMessage("i'm fine")

	r := c.RunTurn(context.Background())
	require.NotNil(t, r.Insights)
	assert.Equal(t, sentiment.StateMasked, r.Insights.EmotionalState)
	assert.Equal(t, AlignmentMasking, r.Alignment)

	// +0.15 against the unenriched composite
	base := 0.65*r.BurnoutScore + 0.25*((1-r.TextScore)/2)
	assert.InDelta(t, clamp01(base+0.15), r.CompositeScore, 1e-6)
}

func TestEnrichmentFailureFallsBackToHeuristics(t *testing.T) {
	broken := &stubGenerator{err: errors.New("model offline")}
	c, now := newTestContext(WithEnrichment(enrichment.NewWithGenerator(broken), time.Second))

	tilt(c, now)
	c.RecordMessage("i'm fine")

	r := c.RunTurn(context.Background())
	require.NotNil(t, r.Insights, "heuristic insights stand in for the model")
	assert.Equal(t, sentiment.StateFatigued, r.Insights.EmotionalState)
	assert.Equal(t, AlignmentMasking, r.Alignment, "keyword result stands")

	// Fatigued above 0.6 nudges the composite like a real model result
	base := 0.65*r.BurnoutScore + 0.25*((1-r.TextScore)/2)
	assert.InDelta(t, clamp01(base+0.10), r.CompositeScore, 1e-6)
}

func TestMaskingSeenBeforeFirstTurn(t *testing.T) {
	c, now := newTestContext()
	c.StartSession()
	c.collector.Restore([]signal.Signal{
		signal.New(signal.KindSubmissionThenSilence, *now, nil),
		signal.New(signal.KindSubmissionThenSilence, *now, nil),
		signal.New(signal.KindSubmissionThenSilence, *now, nil),
	}, 0)

	// No turn has run yet, so only the raw decayed score can expose
	// the struggle behind the deflection
	res := c.RecordMessage("i'm fine, no problem")
	require.True(t, res.Masking)
	assert.Equal(t, sentiment.StateMasked, res.State)

	r := c.RunTurn(context.Background())
	assert.Equal(t, AlignmentMasking, r.Alignment)
}

func TestPositiveEnrichmentLowersComposite(t *testing.T) {
	upbeat := &stubGenerator{response: `{"emotional_state": "motivated", "intensity": 0.8, "intervention_needed": false}`}
	c, now := newTestContext(WithEnrichment(enrichment.NewWithGenerator(upbeat), time.Second))

	tilt(c, now)
	c.RecordMessage("i guess i'll keep going") // complex phrase triggers triage

	r := c.RunTurn(context.Background())
	require.NotNil(t, r.Insights)
	base := 0.65*r.BurnoutScore + 0.25*((1-r.TextScore)/2)
	assert.InDelta(t, clamp01(base-0.10), r.CompositeScore, 1e-6)
}

func TestWellnessMetrics(t *testing.T) {
	c, now := newTestContext()
	c.StartSession()
	tiltSignals := []signal.Signal{
		signal.New(signal.KindRapidWABurst, *now, nil),
		signal.New(signal.KindProblemSkipStreak, *now, nil),
		signal.New(signal.KindIdleOnProblem, *now, nil),
		signal.New(signal.KindTabAwayFrequency, *now, nil),
	}
	c.collector.Restore(tiltSignals, 0)
	*now = now.Add(60 * time.Minute)

	r := c.RunTurn(context.Background())
	assert.InDelta(t, 0.4, r.Metrics.FrustrationIndex, 1e-6) // 2 of 5
	// (60/120)^1.5 + 0.1 for one idle signal
	assert.InDelta(t, 0.4536, r.Metrics.FatigueIndex, 0.001)
	assert.InDelta(t, 55.0, r.Metrics.FocusScore, 1e-6) // 3 drains
}

func TestRecoveryCountsGoodSessions(t *testing.T) {
	c, now := newTestContext()
	c.machine.Restore(coachstate.StateRecovery, *now)

	for i := 0; i < 2; i++ {
		c.StartSession()
		c.RecordEvent(signal.EventProblemSolved, nil)
		*now = now.Add(20 * time.Minute)
		c.EndSession()
		*now = now.Add(5 * time.Minute)
	}

	r := c.RunTurn(context.Background())
	assert.Equal(t, coachstate.StateNormal, r.CoachState)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c, now := newTestContext()
	tilt(c, now)
	c.RecordMessage("i'm fine")
	c.RunTurn(context.Background())

	snap := c.Export()
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, "u1", snap.UserID)

	restored, _ := newTestContext()
	restored.Import(snap)

	again := restored.Export()
	// ExportedAt tracks the exporting clock and Metrics depend on the
	// open session, which is not part of the snapshot
	ignore := cmpopts.IgnoreFields(Snapshot{}, "ExportedAt", "Metrics")
	if diff := cmp.Diff(snap, again, ignore); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, c.State(), restored.State())
	assert.InDelta(t, c.BurnoutScore(), restored.BurnoutScore(), 1e-9)
}

func TestImportUnknownEnumsDefaultSafely(t *testing.T) {
	c, _ := newTestContext()
	c.Import(Snapshot{
		Version:    99,
		UserID:     "u1",
		CoachState: "transcendent",
		Signals: []signal.Signal{
			{Kind: signal.Kind("quantum_flux"), Weight: 3.0},
			{Kind: signal.KindRapidWABurst, Weight: 0.15},
		},
		Sentiments: []sentiment.Result{
			{State: sentiment.EmotionalState("ecstatic"), Intensity: 0.5},
		},
	})

	assert.Equal(t, coachstate.StateNormal, c.State())
	assert.Len(t, c.collector.Signals(), 1, "unknown signal kinds are dropped")
	assert.Equal(t, sentiment.StateNeutral, c.analyzer.History()[0].State)
}

func TestManagerIsolatesUsers(t *testing.T) {
	m := NewManager()

	m.RecordEvent("alice", signal.EventWrongAnswer, nil)
	m.RecordEvent("alice", signal.EventWrongAnswer, nil)
	m.RecordMessage("bob", "feeling awesome today")

	ra := m.RunTurn(context.Background(), "alice")
	rb := m.RunTurn(context.Background(), "bob")
	assert.NotEqual(t, ra.TextScore, rb.TextScore)
	assert.ElementsMatch(t, []string{"alice", "bob"}, m.Users())
}

func TestManagerConcurrentTurns(t *testing.T) {
	m := NewManager()
	users := []string{"a", "b", "c", "d"}

	done := make(chan struct{})
	for _, u := range users {
		go func(userID string) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 20; i++ {
				m.RecordEvent(userID, signal.EventWrongAnswer, nil)
				m.RecordMessage(userID, "stuck on this")
				m.RunTurn(context.Background(), userID)
			}
		}(u)
	}
	for range users {
		<-done
	}

	for _, u := range users {
		assert.GreaterOrEqual(t, m.Get(u).BurnoutScore(), 0.0)
	}
}

func TestCompare(t *testing.T) {
	c, now := newTestContext()
	for _, text := range []string{
		"this is awesome", "love this", "got it",
		"stuck", "i hate this", "i'm done",
	} {
		c.RecordMessage(text)
	}
	tilt(c, now)
	c.RunTurn(context.Background())

	tc := c.Compare()
	assert.Less(t, tc.MessageToneChange, 0.0, "tone moved negative")
}

type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(context.Context, string) (string, error) {
	return s.response, s.err
}
