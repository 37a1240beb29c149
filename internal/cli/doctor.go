package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/httpapi"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/knowledge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/sandbox"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify configuration and local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			var problems []string
			check := func(name string, err error) {
				if err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", name, err))
					return
				}
				_, _ = fmt.Fprintf(out, "ok  %s\n", name)
			}

			cfg, err := config.Load(home)
			if err != nil {
				check("config", err)
			} else {
				check("config", cfg.Validate())

				sb, err := sandbox.New(cfg.Sandbox.Dir)
				if err == nil {
					err = checkWritable(sb.Root())
				}
				check("sandbox "+cfg.Sandbox.Dir, err)

				_, err = learning.Open(cfg.LearningDir())
				check("preferences", err)

				st, err := httpapi.OpenStore(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN, home)
				if err == nil {
					_, err = st.Counts(cmd.Context())
					_ = st.Close()
				}
				check("task store ("+cfg.Store.Driver+")", err)
			}
			_, err = knowledge.Load()
			check("knowledge base", err)

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}
			return nil
		},
	}
	return cmd
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}
