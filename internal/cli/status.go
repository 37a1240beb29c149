package cli

import (
	"fmt"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show counsel worker status and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Running {
				_, _ = fmt.Fprintln(out, "counsel not running")
				return nil
			}
			_, _ = fmt.Fprintf(out, "counsel running (pid %d, addr %s)\n", st.PID, st.Addr)

			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				_, _ = fmt.Fprintf(out, "health check failed: %v\n", err)
				return nil
			}
			active := h.ActiveTask
			if active == "" {
				active = "idle"
			}
			_, _ = fmt.Fprintf(out, "active: %s\n", active)
			_, _ = fmt.Fprintf(out, "tasks: %d pending, %d running, %d completed, %d failed, %d cancelled\n",
				h.Tasks.Pending, h.Tasks.Running, h.Tasks.Completed, h.Tasks.Failed, h.Tasks.Cancelled)
			return nil
		},
	}
	return cmd
}
