package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	ConfigPath      string
	SeedPath        string
	LogLevel        string
	LogFormat       string
	Output          string
	ShutdownTimeout time.Duration

	logger *slog.Logger
}

func (o *globalOptions) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, o.LogLevel) {
		return fmt.Errorf("invalid log level: %s", o.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, o.LogFormat) {
		return fmt.Errorf("invalid log format: %s", o.LogFormat)
	}
	if !slices.Contains([]string{"table", "json"}, o.Output) {
		return fmt.Errorf("invalid output format: %s", o.Output)
	}
	if o.ConfigPath != "" {
		if _, err := os.Stat(o.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", o.ConfigPath)
		}
	}
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Flow bridge: adapter-to-adapter integration flows",
		Long:          "Runs integration flows that move messages from a source adapter through mapping and transformation steps to one or more target adapters.",
		Version:       Version + " (" + BuildTime + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			opts.logger = setupLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", getEnv("FLOWBRIDGE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: FLOWBRIDGE_CONFIG)")
	pf.StringVar(&opts.SeedPath, "seed", getEnv("FLOWBRIDGE_SEED", ""),
		"Definitions bundle loaded into the store, overrides seed.path (env: FLOWBRIDGE_SEED)")
	pf.StringVar(&opts.LogLevel, "log-level", getEnv("FLOWBRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: FLOWBRIDGE_LOG_LEVEL)")
	pf.StringVar(&opts.LogFormat, "log-format", getEnv("FLOWBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: FLOWBRIDGE_LOG_FORMAT)")
	pf.StringVarP(&opts.Output, "output", "o", "table", "Output format: table or json")
	pf.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FLOWBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FLOWBRIDGE_SHUTDOWN_TIMEOUT)")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newOrchestrateCmd(opts),
		newValidateCmd(opts),
		newAdaptersCmd(opts),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
