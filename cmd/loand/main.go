package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftlend/config"
	"nftlend/observability/logging"
	"nftlend/observability/otel"
	"nftlend/services/loand"
	svcconfig "nftlend/services/loand/config"
	"nftlend/storage/loanstore"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	apiConfigFile := flag.String("api-config", "", "Path to the API service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, err := logging.Setup("loand", logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		slog.Error("failed to configure logging", slog.Any("error", err))
		os.Exit(1)
	}

	apiCfg, err := svcconfig.Load(*apiConfigFile)
	if err != nil {
		logger.Error("failed to load api config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, otel.Config{
		ServiceName: "loand",
		Environment: apiCfg.Telemetry.Environment,
		Endpoint:    apiCfg.Telemetry.Endpoint,
		Insecure:    apiCfg.Telemetry.Insecure,
		Traces:      apiCfg.Telemetry.Enabled,
		Metrics:     apiCfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := loanstore.Open(filepath.Join(cfg.DataDir, "loans.db"))
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	protocol, err := loand.NewProtocol(cfg, store)
	if err != nil {
		logger.Error("failed to assemble protocol", slog.Any("error", err))
		os.Exit(1)
	}

	server := loand.NewServer(protocol, apiCfg)
	// The service config wins over the node config only when one was supplied.
	listen := cfg.ListenAddress
	metricsListen := cfg.MetricsAddress
	if *apiConfigFile != "" {
		listen = apiCfg.ListenAddress
		metricsListen = apiCfg.MetricsAddress
	}
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              metricsListen,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("api listening", slog.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("metrics listening", slog.String("address", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", slog.Any("error", err))
	}
	logger.Info("stopped")
}
