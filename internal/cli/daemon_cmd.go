package cli

import (
	"context"
	"errors"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd(version string) *cobra.Command {
	var (
		port      int
		dev       bool
		pprofAddr string
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			err := daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:      home,
				Port:      port,
				Dev:       dev,
				PprofAddr: pprofAddr,
				Version:   version,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port for the HTTP API")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")

	return cmd
}
