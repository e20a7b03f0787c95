package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pressd/internal/config"
	"pressd/internal/logging"
	"pressd/internal/services"
)

func main() {
	cfg := config.LoadConfig()

	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer logging.Shutdown()

	mgr := services.NewManager(cfg)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("failed to initialize services", "error", err)
		mgr.Shutdown(initCtx)
		os.Exit(1)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := mgr.Start(bgCtx); err != nil {
		slog.Error("failed to start services", "error", err)
		bgCancel()
		mgr.Shutdown(initCtx)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	bgCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	slog.Info("stopped")
}
