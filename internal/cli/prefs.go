package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Inspect and teach learned preferences",
	}
	cmd.AddCommand(newPrefsListCmd(), newPrefsSetCmd(), newPrefsGuideCmd(), newPrefsReviewCmd())
	return cmd
}

func newPrefsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List preferences by confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openLearning(cmd)
			if err != nil {
				return err
			}
			prefs := ls.Preferences()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), prefs)
			}
			if len(prefs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No preferences learned yet.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TOPIC\tCONFIDENCE\tUSES\tINSTRUCTION")
			for _, p := range prefs {
				_, _ = fmt.Fprintf(tw, "%s\t%.2f\t%d\t%s\n", p.Topic, p.Confidence, p.UseCount, clip(p.Instruction, 70))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newPrefsSetCmd() *cobra.Command {
	var examples []string
	cmd := &cobra.Command{
		Use:   "set <topic> <instruction>",
		Short: "Record an explicit preference",
		Long:  "Record an explicit preference. Topics use Category:detail form, for example Formatting:headings.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openLearning(cmd)
			if err != nil {
				return err
			}
			res, err := ls.UpdatePreference(args[0], args[1], examples, "explicit")
			if err != nil {
				return err
			}
			verb := "Updated"
			if res.Created {
				verb = "Created"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (confidence %.2f)\n", verb, res.Preference.Topic, res.Preference.Confidence)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&examples, "example", nil, "Example of the preference (repeatable)")
	return cmd
}

func newPrefsGuideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guide",
		Short: "Print the generated style guide",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := openLearning(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), ls.StyleGuide())
			return nil
		},
	}
}

func newPrefsReviewCmd() *cobra.Command {
	var original, final, docType string
	cmd := &cobra.Command{
		Use:   "review-edits",
		Short: "Learn from the edits made to an agent draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if original == "" || final == "" {
				return errors.New("--original and --final are required")
			}
			a, err := os.ReadFile(original)
			if err != nil {
				return err
			}
			b, err := os.ReadFile(final)
			if err != nil {
				return err
			}
			ls, err := openLearning(cmd)
			if err != nil {
				return err
			}
			rev, err := ls.ReviewEdits(string(a), string(b), docType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rev)
		},
	}
	cmd.Flags().StringVar(&original, "original", "", "Path of the agent's draft")
	cmd.Flags().StringVar(&final, "final", "", "Path of the edited version")
	cmd.Flags().StringVar(&docType, "type", "general", "Document type the edits apply to")
	return cmd
}
