package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"codecoach/internal/fusion"
	"codecoach/internal/signal"
	"codecoach/internal/store"
)

var (
	simUsers int
	simTurns int
	simSave  bool
)

// simulateCmd runs scripted user sessions through the engine.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated coaching sessions",
	Long: `Drives the fusion engine with scripted user profiles and prints the
per-turn assessment. Odd-numbered users tilt (wrong-answer bursts, ghost
losses, deflecting messages); even-numbered users stay healthy. Users run
concurrently against a shared manager.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simUsers, "users", 4, "Number of simulated users")
	simulateCmd.Flags().IntVar(&simTurns, "turns", 6, "Turns per user")
	simulateCmd.Flags().BoolVar(&simSave, "save", false, "Persist snapshots and logs to the store")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	manager := fusion.NewManager(fusion.WithCollectorConfig(cfg.CollectorSettings()))

	var st *store.Store
	if simSave {
		var err error
		st, err = openStore()
		if err != nil {
			return err
		}
		defer st.Close()
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	for i := 0; i < simUsers; i++ {
		userID := fmt.Sprintf("sim-user-%d", i+1)
		tilting := i%2 == 1
		g.Go(func() error {
			return simulateUser(ctx, manager, st, userID, tilting)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("\nSimulated %d users, %d turns each\n", simUsers, simTurns)
	return nil
}

func simulateUser(ctx context.Context, m *fusion.Manager, st *store.Store, userID string, tilting bool) error {
	c := m.Get(userID)
	c.StartSession()

	for turn := 0; turn < simTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tilting {
			feedTiltingTurn(m, userID, turn)
		} else {
			feedHealthyTurn(m, userID, turn)
		}

		r := m.RunTurn(ctx, userID)
		logger.Info("turn",
			zap.String("user", userID),
			zap.Int("turn", turn+1),
			zap.Float64("burnout", r.BurnoutScore),
			zap.Float64("composite", r.CompositeScore),
			zap.String("state", string(r.CoachState)),
			zap.String("alignment", string(r.Alignment)),
			zap.String("level", string(r.InterventionLevel)))

		if r.Intervention != nil {
			fmt.Printf("[%s] coach (%s): %s\n", userID, r.Intervention.Type, r.Intervention.Message)
		}
		if r.CoachResponse != "" {
			fmt.Printf("[%s] coach: %s\n", userID, r.CoachResponse)
		}

		if st != nil {
			if r.Transition != nil {
				if err := st.LogTransition(userID, *r.Transition); err != nil {
					return err
				}
			}
			if r.Intervention != nil {
				if err := st.LogIntervention(userID, *r.Intervention); err != nil {
					return err
				}
			}
			if err := st.LogTurn(userID, r, time.Now()); err != nil {
				return err
			}
		}

		// Real users do not submit every second
		time.Sleep(50 * time.Millisecond)
	}

	c.EndSession()
	if st != nil {
		return st.SaveSnapshot(m.Export(userID))
	}
	return nil
}

func feedTiltingTurn(m *fusion.Manager, userID string, turn int) {
	for i := 0; i < 3; i++ {
		m.RecordEvent(userID, signal.EventWrongAnswer, nil)
	}
	m.RecordEvent(userID, signal.EventGhostRaceResult, map[string]string{"won": "false"})
	switch turn {
	case 2:
		m.RecordMessage(userID, "i'm fine, just warming up")
	case 4:
		m.RecordMessage(userID, "this is impossible, i give up")
	}
}

func feedHealthyTurn(m *fusion.Manager, userID string, turn int) {
	m.RecordEvent(userID, signal.EventSubmission, nil)
	m.RecordEvent(userID, signal.EventProblemSolved, nil)
	if turn%2 == 0 {
		m.RecordEvent(userID, signal.EventGhostRaceResult, map[string]string{"won": "true"})
	}
	if turn == 3 {
		m.RecordMessage(userID, "finally got it, that was fun")
	}
}
