package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/sysutil"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "maxbridge",
		Short:        "MAX messenger bridge for the learning platform",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("env-file", "", "Path of a .env file to merge into the environment (default .env).")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newWebhookCmd())
	cmd.AddCommand(newBotInfoCmd())
	return cmd
}

// loadConfig reads the configuration and sets up the process logger.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	if f, _ := cmd.Flags().GetString("env-file"); f != "" {
		if err := os.Setenv("ENV_FILE", f); err != nil {
			return config.Config{}, zerolog.Nop(), err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	lg := sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	return cfg, lg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
