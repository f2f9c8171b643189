package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"polylens/internal/config"
)

func defaultConfigPath() string {
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// loadConfig reads the --config flag (inherited from the root command)
// and loads the config from it; it does not call Validate. It does not apply per-command flag
// overrides; each subcommand does that itself after this returns, since
// the set of overridable fields differs per command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
