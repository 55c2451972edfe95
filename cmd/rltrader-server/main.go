package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"rltrader/internal/api"
	"rltrader/internal/config"
	"rltrader/internal/market"
	"rltrader/internal/store"
	"rltrader/internal/strategy/builtins"
	"rltrader/internal/util"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open sqlite store: %v", err)
	}
	defer db.Close()

	srv := api.NewServer(cfg, api.Deps{
		Fetcher:  market.NewFromConfig(cfg),
		Registry: builtins.Registry(),
		Reports:  db,
		Runs:     db,
		Equity:   store.NewParquetStore(cfg.Storage.DataDir),
		Log:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("rltrader-server starting",
		"host", cfg.Server.Host, "port", cfg.Server.Port, "grpc_port", cfg.Server.GRPCPort)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("rltrader-server stopped")
}
