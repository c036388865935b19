package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/engine"
)

func newRunCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <flow-id>",
		Short: "Execute a flow once through the flow execution service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := buildApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := a.service.ExecuteFlow(ctx, args[0])
			if err != nil {
				return fmt.Errorf("execute flow %s: %w", args[0], err)
			}
			if g.Output == "json" {
				err = writeJSON(cmd.OutOrStdout(), res)
			} else {
				err = printExecution(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("flow %s failed: %s", res.FlowID, res.Message)
			}
			return nil
		},
	}
}

func printExecution(out io.Writer, res *engine.ExecutionResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "EXECUTION\t%s\n", res.ExecutionID)
	fmt.Fprintf(w, "FLOW\t%s\n", res.FlowID)
	fmt.Fprintf(w, "SUCCESS\t%t\n", res.Success)
	fmt.Fprintf(w, "DELIVERED\t%t\n", res.Delivered)
	if res.Filtered {
		fmt.Fprintln(w, "FILTERED\ttrue")
	}
	fmt.Fprintf(w, "BYTES\t%d in, %d out\n", res.BytesIn, res.BytesOut)
	fmt.Fprintf(w, "DURATION\t%s\n", res.Duration)
	fmt.Fprintf(w, "MESSAGE\t%s\n", res.Message)
	if err := w.Flush(); err != nil {
		return err
	}
	if len(res.Steps) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	return writeJSON(out, res.Steps)
}
