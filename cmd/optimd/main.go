package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/adaptive-imaging/optim-core/internal/optimd"
	"github.com/adaptive-imaging/optim-core/pkg/config"
	"github.com/adaptive-imaging/optim-core/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var configPath string
	var httpAddr string
	var logLevel string

	flag.StringVar(&configPath, "config", envOr("OPTIMD_CONFIG", "config.yaml"), "path to the YAML configuration")
	flag.StringVar(&httpAddr, "http-addr", envOr("OPTIMD_HTTP_ADDR", ":8080"), "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", envOr("OPTIMD_LOG_LEVEL", ""), "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	registry := optimd.NewRegistry()
	runner := optimd.NewRunner(registry)

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           optimd.NewHTTPServer(cfg, registry, runner).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Let in-flight rounds finish before closing the listener.
	runner.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
