// Package main runs the end detectors and the recording retrieval worker
// without the HTTP API, for scaling background work separately.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tutorlive/backend/config"
	"github.com/tutorlive/backend/internal/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := newLogger(cfg.IsProduction())
	defer logger.Sync()

	ctx := context.Background()
	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer core.Close()

	bg := core.StartBackground()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	bg.Stop(shutdownCtx, core.Finalizer)
	logger.Info("worker stopped")
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
