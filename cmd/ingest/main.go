package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arnold-1324/AtlasSearch/internal/config"
	"github.com/arnold-1324/AtlasSearch/internal/ingest"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/pkg/types"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("ATLAS_CONFIG_FILE")
	}
	if configFile != "" {
		fmt.Printf("Using configuration file: %s\n", configFile)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App)
	counters := metrics.NewPromCounters()

	sink := buildSink(cfg.Ingest, logger)

	server, err := ingest.NewServer(cfg.Ingest, sink, logger, counters)
	if err != nil {
		logger.WithError(err).Error("Failed to create ingest server")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start ingest server")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	if err := server.Stop(); err != nil {
		logger.WithError(err).Error("Shutdown did not complete cleanly")
		os.Exit(1)
	}
}

// buildSink escolhe o destino downstream: HTTP real quando há endpoint
// configurado, simulado caso contrário.
func buildSink(cfg config.IngestConfig, logger *logrus.Logger) types.Sink {
	if cfg.SinkEndpoint != "" {
		return ingest.NewHTTPSink(cfg.SinkEndpoint, time.Duration(cfg.SinkTimeoutSec)*time.Second, logger)
	}

	logger.WithField("failure_rate", cfg.SinkFailureRate).
		Info("No sink endpoint configured, using simulated sink")
	return ingest.NewFlakySink(cfg.SinkFailureRate, logger)
}

func newLogger(cfg config.AppConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	return logger
}
