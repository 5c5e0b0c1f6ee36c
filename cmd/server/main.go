package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/core"
)

func main() {
	cfg := core.LoadConfig()

	deps, err := core.Bootstrap(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}
	defer deps.Store.Close()

	server := core.NewServer(deps)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		deps.Log.WithField("addr", cfg.ListenAddr).Info("server starting")
		deps.Log.WithField("url", cfg.BaseURL+"/.well-known/openid-configuration").Info("OIDC discovery available")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			deps.Log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	deps.Log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		deps.Log.Fatalf("Server forced to shutdown: %v", err)
	}
	deps.Log.Info("server exited gracefully")
}
