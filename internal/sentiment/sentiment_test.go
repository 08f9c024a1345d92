package sentiment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, text string, behavior BehaviorContext) Result {
	t.Helper()
	return NewAnalyzer().Analyze(text, behavior)
}

func TestEmptyText(t *testing.T) {
	r := analyze(t, "", BehaviorContext{})
	assert.Equal(t, StateNeutral, r.State)
	assert.Zero(t, r.Intensity)
	assert.Zero(t, r.Confidence)
}

func TestNeutralWhenNoPatterns(t *testing.T) {
	r := analyze(t, "working on the two pointer approach", BehaviorContext{})
	assert.Equal(t, StateNeutral, r.State)
	assert.Equal(t, 0.3, r.Intensity)
	assert.Empty(t, r.MatchedPatterns)
}

func TestFrustration(t *testing.T) {
	r := analyze(t, "ugh this is so confusing, I'm stuck", BehaviorContext{})
	assert.Equal(t, StateFrustrated, r.State)
	assert.Greater(t, r.Intensity, 0.0)
	assert.Contains(t, r.MatchedPatterns, "stuck")
}

func TestGivingUpBeatsFrustration(t *testing.T) {
	r := analyze(t, "this is impossible, I give up", BehaviorContext{})
	assert.Equal(t, StateDiscouraged, r.State)
}

func TestSelfDoubt(t *testing.T) {
	r := analyze(t, "i suck at this, everyone else gets it", BehaviorContext{})
	assert.Equal(t, StateDiscouraged, r.State)
}

func TestFatigue(t *testing.T) {
	r := analyze(t, "so tired and bored of this", BehaviorContext{})
	assert.Equal(t, StateFatigued, r.State)
}

func TestCelebration(t *testing.T) {
	r := analyze(t, "let's go, that was awesome!", BehaviorContext{})
	assert.Equal(t, StateCelebrating, r.State)
}

func TestGrowth(t *testing.T) {
	r := analyze(t, "I finally see the pattern, definitely getting better", BehaviorContext{})
	// joy absent, growth present
	assert.Equal(t, StateMotivated, r.State)
}

func TestStemMatching(t *testing.T) {
	r := analyze(t, "so frustrating and annoying", BehaviorContext{})
	assert.Equal(t, StateFrustrated, r.State)
}

func TestWordBoundary(t *testing.T) {
	// "easy" must not match inside "uneasy"
	r := analyze(t, "feeling uneasy about this problem", BehaviorContext{})
	assert.Equal(t, StateNeutral, r.State)
}

func TestCaseInsensitive(t *testing.T) {
	r := analyze(t, "WTF this is IMPOSSIBLE", BehaviorContext{})
	assert.Equal(t, StateFrustrated, r.State)
}

func TestMixedMessageTieBreak(t *testing.T) {
	// One negative, one positive
	text := "got it working but this was so hard"

	calm := analyze(t, text, BehaviorContext{BurnoutScore: 0.2})
	assert.Equal(t, StateNeutral, calm.State)

	strained := analyze(t, text, BehaviorContext{BurnoutScore: 0.6})
	assert.Equal(t, StateFrustrated, strained.State)
	assert.Equal(t, 0.4, strained.Intensity)
}

func TestMaskingRequiresBehavioralEvidence(t *testing.T) {
	text := "i'm fine, no problem"

	// Calm behavior: the phrase is taken at face value
	calm := analyze(t, text, BehaviorContext{BurnoutScore: 0.1})
	assert.NotEqual(t, StateMasked, calm.State)
	assert.False(t, calm.Masking)

	// High burnout contradicts the words
	hot := analyze(t, text, BehaviorContext{BurnoutScore: 0.6})
	assert.Equal(t, StateMasked, hot.State)
	assert.True(t, hot.Masking)
	assert.GreaterOrEqual(t, hot.Confidence, 0.7)

	// Skip streak is enough on its own
	skipping := analyze(t, text, BehaviorContext{RecentSkips: 3})
	assert.True(t, skipping.Masking)

	// So is a ghost loss streak
	losing := analyze(t, text, BehaviorContext{GhostLossStreak: 3})
	assert.True(t, losing.Masking)
}

func TestConfidenceScalesWithMatches(t *testing.T) {
	one := analyze(t, "stuck", BehaviorContext{})
	many := analyze(t, "stuck, confusing, i hate this broken thing", BehaviorContext{})
	assert.Greater(t, many.Confidence, one.Confidence)
	assert.LessOrEqual(t, many.Confidence, 1.0)
}

func TestMatchedPatternsCapped(t *testing.T) {
	r := analyze(t, "stuck wtf impossible hate stupid broken confusing ugh", BehaviorContext{})
	assert.LessOrEqual(t, len(r.MatchedPatterns), 5)
}

func TestRawTextTruncated(t *testing.T) {
	long := strings.Repeat("stuck on this thing ", 20)
	r := analyze(t, long, BehaviorContext{})
	assert.Len(t, r.RawText, 100)
}

func TestHistoryBounded(t *testing.T) {
	a := NewAnalyzer()
	for i := 0; i < 60; i++ {
		a.Analyze("stuck again", BehaviorContext{})
	}
	assert.Len(t, a.History(), 50)
}

func TestDeclining(t *testing.T) {
	a := NewAnalyzer()
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return ts })

	// First half positive, second half negative
	for _, text := range []string{
		"awesome, love this", "got it, makes sense", "learned so much", "nice progress",
		"stuck again", "ugh so confusing", "i hate this", "i'm done, give up",
	} {
		a.Analyze(text, BehaviorContext{})
	}
	assert.True(t, a.Declining(10))
}

func TestDecliningNeedsEnoughHistory(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze("stuck", BehaviorContext{})
	a.Analyze("stuck", BehaviorContext{})
	assert.False(t, a.Declining(10))
}

func TestDistributionAndAverageIntensity(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze("stuck", BehaviorContext{})
	a.Analyze("awesome", BehaviorContext{})
	a.Analyze("awesome stuff", BehaviorContext{})

	dist := a.Distribution()
	assert.Equal(t, 1, dist[StateFrustrated])
	assert.Equal(t, 2, dist[StateCelebrating])
	assert.Greater(t, a.AverageIntensity(), 0.0)
}

func TestParseStateUnknownDefaultsToNeutral(t *testing.T) {
	assert.Equal(t, StateNeutral, ParseState("euphoric"))
	assert.Equal(t, StateMasked, ParseState("masked"))
}

func TestRestoreHistory(t *testing.T) {
	a := NewAnalyzer()
	saved := []Result{
		{State: StateFrustrated, Intensity: 0.5},
		{State: StateMasked, Intensity: 0.8},
	}
	a.RestoreHistory(saved)
	require.Len(t, a.History(), 2)
	assert.Equal(t, StateMasked, a.History()[1].State)
}
