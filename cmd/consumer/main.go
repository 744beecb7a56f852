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
	"github.com/arnold-1324/AtlasSearch/internal/consumer"
	"github.com/arnold-1324/AtlasSearch/internal/metrics"
	"github.com/arnold-1324/AtlasSearch/internal/store"
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

	indexStore, err := store.NewElasticStore(cfg.ESAddress(), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create elasticsearch store")
		os.Exit(1)
	}

	cacheStore := store.NewRedisStore(cfg.RedisAddress(), logger)
	defer cacheStore.Close()

	// Connectivity is probed at startup but failures are not fatal; both
	// stores recover on their own and every operation handles errors.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := indexStore.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Elasticsearch not reachable at startup")
	}
	if err := cacheStore.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Redis not reachable at startup")
	}
	pingCancel()

	dlq, err := consumer.NewDLQProducer(cfg.Kafka, logger, counters)
	if err != nil {
		logger.WithError(err).Error("Failed to create DLQ producer")
		os.Exit(1)
	}
	defer dlq.Close()

	processor := consumer.NewEventProcessor(indexStore, cacheStore, logger, counters)

	streamConsumer, err := consumer.NewStreamConsumer(cfg.Kafka, processor, dlq, logger, counters)
	if err != nil {
		logger.WithError(err).Error("Failed to create stream consumer")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := streamConsumer.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start stream consumer")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	if err := streamConsumer.Stop(); err != nil {
		logger.WithError(err).Error("Shutdown did not complete cleanly")
		os.Exit(1)
	}

	stats := streamConsumer.GetStats()
	logger.WithFields(logrus.Fields{
		"processed":    stats.EventsProcessed,
		"skipped":      stats.EventsSkipped,
		"failed":       stats.EventsFailed,
		"parse_errors": stats.EventsParseError,
		"dlq":          stats.DLQPublished,
	}).Info("Final consumer statistics")
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
