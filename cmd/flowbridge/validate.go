package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/orchestration"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flow-id...]",
		Short: "Validate the configuration, or check flows for orchestration readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(args) == 0 {
				if _, err := loadConfig(g); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
				return nil
			}

			a, err := buildApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			results := make(map[string]*orchestration.ValidationResult, len(args))
			invalid := 0
			for _, id := range args {
				res, err := a.orchestrator.ValidateFlow(ctx, id)
				if err != nil {
					return fmt.Errorf("validate %s: %w", id, err)
				}
				results[id] = res
				if !res.Valid {
					invalid++
				}
			}

			if g.Output == "json" {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FLOW\tVALID\tERRORS\tWARNINGS")
				for _, id := range args {
					res := results[id]
					fmt.Fprintf(w, "%s\t%t\t%d\t%d\n", id, res.Valid, len(res.Errors), len(res.Warnings))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				for _, id := range args {
					for _, e := range results[id].Errors {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %s\n", id, e)
					}
					for _, warn := range results[id].Warnings {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: warning: %s\n", id, warn)
					}
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d flows invalid", invalid, len(args))
			}
			return nil
		},
	}
}
