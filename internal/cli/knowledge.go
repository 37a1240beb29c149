package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/knowledge"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Browse the built-in legal knowledge base",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "areas",
			Short: "List practice areas",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				kb, err := knowledge.Load()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "KEY\tNAME\tDESCRIPTION")
				for _, a := range kb.Areas() {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Key, a.Name, clip(a.Description, 60))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "show <area>",
			Short: "Print one practice area",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				kb, err := knowledge.Load()
				if err != nil {
					return err
				}
				a, ok := kb.Area(args[0])
				if !ok {
					return fmt.Errorf("unknown practice area %q", args[0])
				}
				return printYAML(cmd, a)
			},
		},
		&cobra.Command{
			Use:   "procedure <name>",
			Short: "Print one common procedure",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				kb, err := knowledge.Load()
				if err != nil {
					return err
				}
				p, ok := kb.Procedure(args[0])
				if !ok {
					return fmt.Errorf("unknown procedure %q", args[0])
				}
				return printYAML(cmd, p)
			},
		},
		&cobra.Command{
			Use:   "infer <description>",
			Short: "Infer the practice area of a matter description",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				kb, err := knowledge.Load()
				if err != nil {
					return err
				}
				key, ok := kb.Infer(strings.Join(args, " "))
				if !ok {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "unknown")
					return nil
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			},
		},
	)
	return cmd
}

func printYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
