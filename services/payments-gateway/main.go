package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fatumayattani/ridmint/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logging.Setup("payments-gateway", "dev").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("payments-gateway", cfg.Environment)

	store, err := NewStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("open index store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	node := NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	orchestrator := NewOrchestrator(node, store, cfg, logger)
	auth := NewAuthenticator(cfg.APIKeys)
	server := NewServer(auth, orchestrator, store, logger)
	watcher := NewEventWatcher(node, store, cfg, logger)

	watchCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()
	go watcher.Run(watchCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("payments gateway listening", "address", cfg.ListenAddress, "network", cfg.Network)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down payments gateway")
	stopWatcher()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
