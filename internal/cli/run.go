package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/spf13/cobra"
)

// consoleSink prints delivered events as one line each.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *consoleSink) Name() string { return "console" }

func (s *consoleSink) Deliver(ctx context.Context, taskID string, b stream.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range b.Events {
		if ev.Type == stream.ThoughtUpdate || ev.Type == stream.ArtifactUpdate {
			continue
		}
		_, _ = fmt.Fprintf(s.w, "%s %3d%%  %-18s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), b.Progress.ProgressPercent, ev.Type, ev.Message)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		asJSON     bool
		stub       bool
		sandboxDir string
		postEvents bool
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run one goal in the foreground without the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if stub {
				cfg.Model.Provider = "stub"
			}
			if sandboxDir != "" {
				cfg.Sandbox.Dir = sandboxDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ag, err := daemon.NewAgent(cfg)
			if err != nil {
				return err
			}

			goal := strings.Join(args, " ")
			taskID := "run_" + time.Now().UTC().Format("20060102_150405")
			sinks := stream.FanOut{&consoleSink{w: cmd.ErrOrStderr()}}
			if postEvents && cfg.StreamURL() != "" {
				sinks = append(sinks, &stream.HTTPSink{BaseURL: cfg.StreamURL(), Token: cfg.Backend.AuthToken})
			}
			em := stream.NewEmitter(taskID, sinks, stream.WithFlushInterval(cfg.Stream.FlushInterval), stream.WithHistory(cfg.Stream.History))
			em.Start()
			res := ag.Run(cmd.Context(), goal, em)
			em.Stop()

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				_, _ = fmt.Fprintf(out, "Complexity: %s, %d iterations, %.0fs\n", res.Complexity, res.Iterations, res.ElapsedSeconds)
				if res.Summary != "" {
					_, _ = fmt.Fprintf(out, "Summary: %s\n", res.Summary)
				}
				for _, f := range res.OutputFiles {
					_, _ = fmt.Fprintf(out, "Output: %s\n", f)
				}
			}
			if !res.Success {
				return fmt.Errorf("task failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVar(&stub, "stub", false, "Use the offline stub model")
	cmd.Flags().StringVar(&sandboxDir, "sandbox", "", "Override the sandbox directory")
	cmd.Flags().BoolVar(&postEvents, "post-events", false, "Also post events to the backend stream endpoint")
	return cmd
}
