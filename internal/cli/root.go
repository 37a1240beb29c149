package cli

import (
	"os"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride, envFile string

	cmd := &cobra.Command{
		Use:           "counsel",
		Short:         "counsel: background legal-document agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := config.LoadEnvFile(envFile); err != nil {
					return err
				}
			}
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override counsel home directory (default: ~/.counsel, env: COUNSEL_HOME)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before reading config")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd(version))
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPrefsCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(newApikeyCmd())
	cmd.AddCommand(newNukeCmd())

	// Hidden internal subcommand used by `counsel start` for background mode.
	cmd.AddCommand(newDaemonCmd(version))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
