package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/client"
	"github.com/spf13/cobra"
)

// loadConfig reads the configuration of the home in cmd's context.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.MustHomeFrom(cmd.Context()))
}

// apiClient returns a client for the running worker. The address comes
// from the daemon's addr file, falling back to the configured port.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	port := cfg.Server.Port
	st, err := daemon.Status(cmd.Context(), config.MustHomeFrom(cmd.Context()))
	if err != nil {
		return nil, err
	}
	if st.Running {
		if _, p, err := net.SplitHostPort(st.Addr); err == nil {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
	}
	return client.New(fmt.Sprintf("http://127.0.0.1:%d", port), cfg.Server.APIKey), nil
}

func openLearning(cmd *cobra.Command) (*learning.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return learning.Open(cfg.LearningDir())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
