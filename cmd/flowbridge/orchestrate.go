package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newOrchestrateCmd(g *globalOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "orchestrate <flow-id>",
		Short: "Run a flow through the orchestration engine and wait for the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			data, err := parseInput(input)
			if err != nil {
				return err
			}

			a, err := buildApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.orchestrator.Start(ctx); err != nil {
				return fmt.Errorf("start orchestration: %w", err)
			}
			defer func() {
				if err := a.orchestrator.Stop(g.ShutdownTimeout); err != nil {
					a.logger.Warn("Error stopping orchestration", "error", err)
				}
			}()

			res, err := a.orchestrator.Execute(ctx, args[0], data)
			if err != nil {
				return err
			}
			if g.Output == "json" {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Execution %s: success=%t\n", res.ExecutionID, res.Success)
				if res.Message != "" {
					fmt.Fprintln(out, res.Message)
				}
				for _, line := range res.Logs {
					fmt.Fprintln(out, "  "+line)
				}
			}
			if !res.Success {
				return fmt.Errorf("orchestration of %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Input payload: inline JSON, plain text, or @path to read a file")
	return cmd
}

// parseInput accepts a JSON document, @file, or raw text. Non-JSON text is
// passed through as a string.
func parseInput(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	raw := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		defer f.Close()
		if raw, err = io.ReadAll(f); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
	}
	var v any
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		return v, nil
	}
	return string(raw), nil
}
