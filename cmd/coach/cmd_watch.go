package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codecoach/internal/enrichment"
	"codecoach/internal/fusion"
)

var (
	watchUser     string
	watchTags     []string
	watchInterval time.Duration
)

// watchCmd observes a solution file and coaches in real time.
var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Watch a solution file and coach in real time",
	Long: `Watches the given solution file for writes. Every save is fed to the
live detectors (rewrite loops, length explosions, code smells) and a full
assessment runs on a fixed interval. Interventions print as the coach
decides to speak.

Set GEMINI_API_KEY (or enrichment.api_key in coach.yaml) to enable deep
message analysis; without it the keyword layer stands alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchUser, "user", "u", "local", "User ID to coach")
	watchCmd.Flags().StringSliceVar(&watchTags, "tags", nil, "Problem tags (e.g. dp,graphs)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 30*time.Second, "Assessment interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}

	opts := []fusion.Option{fusion.WithCollectorConfig(cfg.CollectorSettings())}
	if cfg.Enrichment.Enabled {
		analyzer := enrichment.NewAnalyzer(cmd.Context(), cfg.Enrichment.APIKey, cfg.Enrichment.Model)
		if analyzer.Available() {
			opts = append(opts, fusion.WithEnrichment(analyzer, cfg.EnrichmentTimeout()))
			logger.Info("enrichment enabled", zap.String("model", cfg.Enrichment.Model))
		}
	}

	manager := fusion.NewManager(opts...)
	c := manager.Get(watchUser)
	c.StartSession()
	c.StartProblem(watchTags)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if snap, err := st.LoadSnapshot(watchUser); err == nil && snap != nil {
		c.Import(*snap)
		logger.Info("restored context",
			zap.String("user", watchUser),
			zap.String("state", snap.CoachState))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	fmt.Printf("Watching %s for user %q. Ctrl-C to stop.\n", path, watchUser)
	var prevLen int
	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping.")
			c.EndSession()
			return st.SaveSnapshot(manager.Export(watchUser))

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
			code, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("read failed", zap.Error(err))
				continue
			}
			added, deleted := len(code)-prevLen, 0
			if added < 0 {
				added, deleted = 0, prevLen-len(code)
			}
			prevLen = len(code)
			c.RecordTyping(added, deleted)
			for _, d := range c.RecordCodeSnapshot(string(code)) {
				fmt.Printf("[live] %s (%.1f): %s\n", d.Kind, d.Severity, d.Detail)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			r := manager.RunTurn(ctx, watchUser)
			logger.Info("assessment",
				zap.Float64("burnout", r.BurnoutScore),
				zap.Float64("composite", r.CompositeScore),
				zap.String("state", string(r.CoachState)),
				zap.String("alignment", string(r.Alignment)))
			if r.Intervention != nil {
				fmt.Printf("\ncoach: %s\n", r.Intervention.Message)
				if err := st.LogIntervention(watchUser, *r.Intervention); err != nil {
					logger.Warn("log intervention failed", zap.Error(err))
				}
			}
			if r.Transition != nil {
				fmt.Printf("state: %s -> %s (%s)\n", r.Transition.From, r.Transition.To, r.Transition.Trigger)
				if err := st.LogTransition(watchUser, *r.Transition); err != nil {
					logger.Warn("log transition failed", zap.Error(err))
				}
			}

		case <-ctx.Done():
			c.EndSession()
			return st.SaveSnapshot(manager.Export(watchUser))
		}
	}
}
