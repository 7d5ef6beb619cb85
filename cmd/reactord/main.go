package main

import (
	"fmt"
	"os"

	"github.com/Viet-ph/reactor/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "reactord",
		Short: "Single-threaded reactor echo server",
		Long: `reactord runs a TCP echo server on a single-threaded reactor.

The backend (epoll, kqueue, poll or select) is chosen at build time:
  go build -tags reactor_poll ./cmd/reactord
  go build -tags reactor_select ./cmd/reactord`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			return config.Load(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
