package intervene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoach/internal/archetype"
	"codecoach/internal/coachstate"
	"codecoach/internal/realtime"
	"codecoach/internal/scorer"
)

func newTestSelector() (*Selector, *time.Time) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s := NewSelector(DefaultConfig())
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestNormalStateStaysQuiet(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateNormal,
		BurnoutLevel: scorer.LevelLow,
		ActiveCount:  1,
	})
	assert.Nil(t, iv)
}

func TestNormalStateSpeaksOnStackedSignals(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateNormal,
		BurnoutLevel: scorer.LevelLow,
		ActiveCount:  2,
		Realtime: []realtime.Detection{
			{Kind: realtime.KindFullRewrite, Severity: 0.8},
		},
	})
	require.NotNil(t, iv)
	assert.Equal(t, TypeStepBack, iv.Type)
}

func TestCriticalBurnoutTopPriority(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateWarning,
		BurnoutLevel: scorer.LevelCritical,
		Realtime: []realtime.Detection{
			{Kind: realtime.KindTypingBurst, Severity: 0.9},
		},
	})
	require.NotNil(t, iv)
	assert.Equal(t, TypeRestSuggestion, iv.Type)
	assert.Equal(t, 10, iv.Priority)
	assert.Equal(t, "burnout:critical", iv.TriggeredBy)
}

func TestRealtimePicksHighestPriority(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateWarning,
		BurnoutLevel: scorer.LevelModerate,
		Realtime: []realtime.Detection{
			{Kind: realtime.KindNoDataStructures, Severity: 0.6}, // priority 5
			{Kind: realtime.KindEarlyBruteForce, Severity: 0.8},  // priority 7
			{Kind: realtime.KindFullRewrite, Severity: 0.7},      // priority 6
		},
	})
	require.NotNil(t, iv)
	assert.Equal(t, TypeStepBack, iv.Type)
	assert.Equal(t, 7, iv.Priority)
	assert.Equal(t, "realtime:early_brute_force", iv.TriggeredBy)
}

func TestArchetypeNudge(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateWarning,
		BurnoutLevel: scorer.LevelModerate,
		Archetype: &archetype.Detection{
			Archetype:  archetype.BruteForcer,
			Confidence: 0.8,
		},
	})
	require.NotNil(t, iv)
	assert.Equal(t, TypeArchetypeNudge, iv.Type)
	assert.Contains(t, iv.Message, "constraint")
}

func TestLowConfidenceArchetypeFallsThrough(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{
		State:        coachstate.StateWarning,
		BurnoutLevel: scorer.LevelModerate,
		Archetype: &archetype.Detection{
			Archetype:  archetype.BruteForcer,
			Confidence: 0.5,
		},
	})
	require.NotNil(t, iv)
	// Falls to the warning-state filler
	assert.Equal(t, TypeReframe, iv.Type)
	assert.Equal(t, "state:warning", iv.TriggeredBy)
}

func TestCooldownBlocks(t *testing.T) {
	s, now := newTestSelector()
	in := Input{State: coachstate.StateWarning, BurnoutLevel: scorer.LevelHigh}

	require.NotNil(t, s.Select(in))

	// Inside the 3-minute warning cooldown
	*now = now.Add(time.Minute)
	assert.Nil(t, s.Select(in))

	*now = now.Add(3 * time.Minute)
	require.NotNil(t, s.Select(in))
}

func TestCriticalRespectsCooldown(t *testing.T) {
	s, now := newTestSelector()
	in := Input{State: coachstate.StateWarning, BurnoutLevel: scorer.LevelCritical}

	require.NotNil(t, s.Select(in))

	// Still inside the 3-minute warning cooldown
	*now = now.Add(time.Minute)
	assert.Nil(t, s.Select(in))

	*now = now.Add(3 * time.Minute)
	require.NotNil(t, s.Select(in))
}

func TestCapBlocksAndCriticalBypasses(t *testing.T) {
	s, now := newTestSelector()
	in := Input{State: coachstate.StateWarning, BurnoutLevel: scorer.LevelHigh}

	// Warning cap is 2
	require.NotNil(t, s.Select(in))
	*now = now.Add(5 * time.Minute)
	require.NotNil(t, s.Select(in))
	*now = now.Add(5 * time.Minute)
	assert.Nil(t, s.Select(in))

	// Critical burnout breaks through the cap
	in.BurnoutLevel = scorer.LevelCritical
	require.NotNil(t, s.Select(in))
}

func TestProtectiveCapHoldsEvenWhenCritical(t *testing.T) {
	s, now := newTestSelector()
	in := Input{State: coachstate.StateProtective, BurnoutLevel: scorer.LevelCritical}

	for i := 0; i < 5; i++ {
		require.NotNil(t, s.Select(in), "intervention %d", i)
		*now = now.Add(2 * time.Minute)
	}
	assert.Nil(t, s.Select(in))
}

func TestStateChangeResetsBudget(t *testing.T) {
	s, now := newTestSelector()
	in := Input{State: coachstate.StateWatching, BurnoutLevel: scorer.LevelHigh}

	require.NotNil(t, s.Select(in))
	*now = now.Add(20 * time.Minute)
	assert.Nil(t, s.Select(in), "watching cap is 1")

	s.OnStateChange(coachstate.StateWatching)
	require.NotNil(t, s.Select(in))
}

func TestRecoveryFiller(t *testing.T) {
	s, _ := newTestSelector()

	iv := s.Select(Input{State: coachstate.StateRecovery, BurnoutLevel: scorer.LevelLow})
	require.NotNil(t, iv)
	assert.Equal(t, TypeEncouragement, iv.Type)
}

func TestNothingToSay(t *testing.T) {
	s, _ := newTestSelector()

	// Watching state, no evidence, no filler defined
	iv := s.Select(Input{State: coachstate.StateWatching, BurnoutLevel: scorer.LevelLow})
	assert.Nil(t, iv)
}
