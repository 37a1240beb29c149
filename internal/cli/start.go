package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/spf13/cobra"
)

func newStartCmd(version string) *cobra.Command {
	var (
		port       int
		foreground bool
		dev        bool
		pprofAddr  string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the counsel worker (task queue poller + local HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			envFile, _ := cmd.Flags().GetString("env-file")
			opts := daemon.StartOptions{
				Home:      home,
				Port:      port,
				Dev:       dev,
				PprofAddr: pprofAddr,
				Version:   version,
				EnvFile:   envFile,
				Config:    cfg,
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting counsel in foreground on http://localhost:%d\n", port)
				err := daemon.StartForeground(cmd.Context(), opts)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "counsel started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d\n", port)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port for the HTTP API (default from config, 3548)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (CORS for a dashboard on another origin)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")

	return cmd
}
