package commands

import (
	"fmt"
	"strings"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/internal/gateway"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "generate <request...>",
		Short: "Ask the model for a plan and write it to a file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.TrimSpace(strings.Join(args, " "))
			if request == "" {
				return clierr.New(clierr.ExitUsage, "request is empty")
			}

			a, err := loadApp(cmd, stderr())
			if err != nil {
				return err
			}
			defer a.Close()

			planner, err := a.planner()
			if err != nil {
				return err
			}
			p, err := planner.Generate(cmd.Context(), consoleChat, request)
			if err != nil {
				return err
			}
			p.ProjectID = a.cfg.Execution.ProjectID
			a.logger.LogPlan(consoleChat, p)

			if err := plan.WriteFile(outPath, p); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}
			if a.store != nil {
				if err := a.store.SavePlan(p); err != nil {
					return fmt.Errorf("save plan: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, gateway.RenderPlan(p))
			fmt.Fprintf(out, "Wrote %s (plan id %s)\n", outPath, p.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "plan.yaml", "where to write the plan")
	return cmd
}
