package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoach/internal/coachstate"
	"codecoach/internal/fusion"
	"codecoach/internal/intervene"
	"codecoach/internal/sentiment"
	"codecoach/internal/signal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(userID string) fusion.Snapshot {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return fusion.Snapshot{
		Version:        fusion.SnapshotVersion,
		UserID:         userID,
		ExportedAt:     at,
		BurnoutScore:   0.55,
		CompositeScore: 0.48,
		CoachState:     "watching",
		StateEnteredAt: at.Add(-10 * time.Minute),
		Signals: []signal.Signal{
			signal.New(signal.KindRapidWABurst, at.Add(-2*time.Minute), nil),
		},
		Sentiments: []sentiment.Result{
			{State: sentiment.StateFrustrated, Intensity: 0.6, RawText: "stuck again", Timestamp: at},
		},
		GhostLossStreak: 2,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	snap := testSnapshot("alice")
	require.NoError(t, s.SaveSnapshot(snap))

	loaded, err := s.LoadSnapshot("alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.BurnoutScore, loaded.BurnoutScore)
	assert.Equal(t, snap.CoachState, loaded.CoachState)
	assert.Equal(t, snap.GhostLossStreak, loaded.GhostLossStreak)
	require.Len(t, loaded.Signals, 1)
	assert.Equal(t, signal.KindRapidWABurst, loaded.Signals[0].Kind)
	require.Len(t, loaded.Sentiments, 1)
	assert.Equal(t, "stuck again", loaded.Sentiments[0].RawText)
}

func TestSaveSnapshotReplaces(t *testing.T) {
	s := newTestStore(t)

	snap := testSnapshot("alice")
	require.NoError(t, s.SaveSnapshot(snap))

	snap.BurnoutScore = 0.72
	snap.CoachState = "warning"
	require.NoError(t, s.SaveSnapshot(snap))

	loaded, err := s.LoadSnapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, 0.72, loaded.BurnoutScore)
	assert.Equal(t, "warning", loaded.CoachState)

	users, err := s.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestLoadSnapshotUnknownUser(t *testing.T) {
	s := newTestStore(t)

	loaded, err := s.LoadSnapshot("nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestUsersSorted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSnapshot(testSnapshot("carol")))
	require.NoError(t, s.SaveSnapshot(testSnapshot("alice")))
	require.NoError(t, s.SaveSnapshot(testSnapshot("bob")))

	users, err := s.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)
}

func TestTransitionLog(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	first := coachstate.Transition{
		ID:      "t1",
		From:    coachstate.StateNormal,
		To:      coachstate.StateWatching,
		Trigger: "Burnout score elevated (0.35)",
		At:      base,
	}
	second := coachstate.Transition{
		ID:      "t2",
		From:    coachstate.StateWatching,
		To:      coachstate.StateWarning,
		Trigger: "High burnout score (0.55)",
		At:      base.Add(5 * time.Minute),
		Forced:  true,
	}
	require.NoError(t, s.LogTransition("alice", first))
	require.NoError(t, s.LogTransition("alice", second))
	require.NoError(t, s.LogTransition("bob", coachstate.Transition{
		ID: "t3", From: coachstate.StateNormal, To: coachstate.StateWatching,
		Trigger: "x", At: base,
	}))

	got, err := s.RecentTransitions("alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID, "newest first")
	assert.Equal(t, coachstate.StateWarning, got[0].To)
	assert.True(t, got[0].Forced)
	assert.Equal(t, "t1", got[1].ID)
	assert.False(t, got[1].Forced)
}

func TestInterventionLog(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		iv := intervene.Intervention{
			Type:        intervene.TypeWarning,
			Message:     "slow down",
			Priority:    8,
			TriggeredBy: "burnout:high",
			At:          base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.LogIntervention("alice", iv))
	}

	got, err := s.RecentInterventions("alice", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, intervene.TypeWarning, got[0].Type)
	assert.True(t, got[0].At.After(got[1].At), "newest first")
}

func TestTurnLogAndScores(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	scores := []float64{0.2, 0.3, 0.4, 0.5}
	for i, v := range scores {
		r := &fusion.TurnResult{
			BurnoutScore:      v,
			CompositeScore:    v,
			CoachState:        coachstate.StateNormal,
			Alignment:         fusion.AlignmentGenuineGood,
			InterventionLevel: fusion.LevelNone,
		}
		require.NoError(t, s.LogTurn("alice", r, base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := s.TurnScores("alice", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.4, 0.5}, got, "latest three, oldest first")

	none, err := s.TurnScores("nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
