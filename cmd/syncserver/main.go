package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/storymaster/storymaster-sync/internal/config"
	"github.com/storymaster/storymaster-sync/internal/logging"
	"github.com/storymaster/storymaster-sync/internal/server"
	"github.com/storymaster/storymaster-sync/internal/service"
	"github.com/storymaster/storymaster-sync/internal/store"
)

// Standalone entrypoint for the sync server. The desktop application embeds
// server.Manager directly; this binary exists for headless use and
// development against a real mobile client.
func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()
	logging.Setup(cfg.Env, cfg.LogFile)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("database open failed", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	pairing := service.NewPairingService(db, cfg.TokenSecret, cfg.PairingTokenTTL, cfg.AuthTokenExpiry, cfg.Port)
	sync := service.NewSyncService(db, cfg.MaxSyncBatchSize)

	manager := server.NewManager(server.NewRouter(db, pairing, sync), cfg.ShutdownTimeout)
	addr, err := manager.Start(cfg.Host, cfg.Port)
	if err != nil {
		slog.Error("server start failed", "error", err)
		os.Exit(1)
	}
	slog.Info("sync server listening", "addr", addr, "env", cfg.Env, "database", cfg.DatabasePath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down sync server")
	if err := manager.Stop(); err != nil {
		slog.Error("shutdown did not complete cleanly", "error", err)
		os.Exit(1)
	}
}
