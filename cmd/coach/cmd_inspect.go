package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// inspectCmd prints a user's stored coaching state.
var inspectCmd = &cobra.Command{
	Use:   "inspect [user]",
	Short: "Show a user's stored coaching state",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

// exportCmd dumps a user's snapshot as JSON.
var exportCmd = &cobra.Command{
	Use:   "export [user]",
	Short: "Export a user's snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

// usersCmd lists users with stored snapshots.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users with stored snapshots",
	RunE:  runUsers,
}

func runInspect(cmd *cobra.Command, args []string) error {
	userID := args[0]
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(userID)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("no stored state for user %q", userID)
	}

	fmt.Printf("User:            %s\n", snap.UserID)
	fmt.Printf("Coach state:     %s (since %s)\n", snap.CoachState, snap.StateEnteredAt.Format("2006-01-02 15:04"))
	fmt.Printf("Burnout score:   %.2f\n", snap.BurnoutScore)
	fmt.Printf("Composite score: %.2f\n", snap.CompositeScore)
	fmt.Printf("Ghost streak:    %d losses\n", snap.GhostLossStreak)
	fmt.Printf("Frustration:     %.2f  Fatigue: %.2f  Focus: %.0f\n",
		snap.Metrics.FrustrationIndex, snap.Metrics.FatigueIndex, snap.Metrics.FocusScore)
	if len(snap.EmotionalTrend) > 0 {
		fmt.Printf("Recent mood:     %v\n", snap.EmotionalTrend)
	}

	transitions, err := st.RecentTransitions(userID, 5)
	if err != nil {
		return err
	}
	if len(transitions) > 0 {
		fmt.Println("\nRecent transitions:")
		for _, tr := range transitions {
			fmt.Printf("  %s  %s -> %s  %s\n",
				tr.At.Format("15:04:05"), tr.From, tr.To, tr.Trigger)
		}
	}

	interventions, err := st.RecentInterventions(userID, 5)
	if err != nil {
		return err
	}
	if len(interventions) > 0 {
		fmt.Println("\nRecent interventions:")
		for _, iv := range interventions {
			fmt.Printf("  %s  [%s] %s\n", iv.At.Format("15:04:05"), iv.Type, iv.Message)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(args[0])
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("no stored state for user %q", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runUsers(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.Users()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No stored users.")
		return nil
	}
	for _, u := range users {
		fmt.Println(u)
	}
	return nil
}
