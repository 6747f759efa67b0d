package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd constructs the planpilot root command.
func NewRootCmd() *cobra.Command {
	version := os.Getenv("PLANPILOT_VERSION")
	if version == "" {
		version = "0.0.0-dev"
	}

	cmd := &cobra.Command{
		Use:           "planpilot",
		Short:         "Run multi-step plans with operator control",
		Long:          "planpilot executes plans step by step against an action backend, classifies each outcome and lets an operator pause, retry, skip or stop between steps.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file (JSON or YAML)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "suppress structured JSON logs")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of planpilot",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "planpilot version %s\n", version)
		},
	})

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newGenerateCmd())

	return cmd
}
