package commands

import (
	"fmt"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/internal/gateway"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var writePath string

	cmd := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan file without running it",
		Long:  "Check a plan file without running it. With --write the normalised plan is saved, converting between JSON and YAML by extension.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return clierr.Usage("cannot load plan", err)
			}
			if err := p.Validate(); err != nil {
				return clierr.Usage("invalid plan", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, gateway.RenderPlan(p))
			if writePath != "" {
				if err := plan.WriteFile(writePath, p); err != nil {
					return fmt.Errorf("write plan: %w", err)
				}
				fmt.Fprintf(out, "Wrote %s\n", writePath)
			}
			fmt.Fprintln(out, "Plan is valid.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&writePath, "write", "w", "", "write the normalised plan to this path")
	return cmd
}
