package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dgnsrekt/mapsync/internal/config"
	"github.com/dgnsrekt/mapsync/internal/metrics"
	"github.com/dgnsrekt/mapsync/internal/server"
	"github.com/dgnsrekt/mapsync/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadHubConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.Int("apiKeys", len(cfg.APIKeys)),
		zap.Bool("retainLast", cfg.RetainLast),
		zap.Int("goroutineThreshold", cfg.GoroutineThreshold),
		zap.Duration("shutdownTimeout", cfg.ShutdownTimeout),
	)

	reg := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(ws.HubOptions{
		RetainLast: cfg.RetainLast,
		APIKeys:    cfg.APIKeys,
		Recorder:   metrics.NewHub(reg),
	}, logger.Named("hub"))
	go hub.Run(ctx)

	health := metrics.NewHealth(cfg.GoroutineThreshold)
	health.AddReadinessCheck("hub", hub.Err)

	router, err := server.NewRouter(server.NewServer(hub, logger), server.RouterOptions{
		Negotiate: ws.NewNegotiateHandler(hub, logger),
		Registry:  reg,
		Health:    health,
	}, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// Websocket and SSE connections are long lived, so only headers are bounded.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting hub", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("shutting down hub...")

	// Cancel context to close websocket clients
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("hub stopped")
	return 0
}
