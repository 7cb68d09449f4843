// Package main runs the live-class API server: HTTP routes, WebSocket delivery,
// recording agents and, unless disabled, the end detectors and retrieval worker.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tutorlive/backend/config"
)

func main() {
	root := &cobra.Command{
		Use:           "tutorlive",
		Short:         "Live class session lifecycle and recording service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return runAPI(cmd.Context()) },
	}
	root.AddCommand(apiCmd(), migrateCmd(), tokenCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.IsProduction())
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func newLogger(production bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if !production {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
