package main

import (
	"context"
	"flag"
	"log"

	"lexgraph-backend/app"
	"lexgraph-backend/config"
	"lexgraph-backend/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer a.Close()

	if err := a.CreateSchema(ctx); err != nil {
		logger.Fatal("failed to create schema", zap.Error(err))
	}
	logger.Info("schema created", zap.Int("dimensions", cfg.Embedding.Dimensions))
}
