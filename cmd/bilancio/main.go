package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"bilancio/internal/backend"
	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(nil))
	logger := cli.SetupLogger(cfg)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err.Error())
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithCancel(context.Background())
	result, err := backend.NewFactory(logger.Logger).CreateBackend(startCtx, backendCfg)
	cancelStart()
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err.Error(), "backend", backendCfg.Type.String())
		os.Exit(1)
	}

	engine := services.NewEngine(result.Store, result.Events)
	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:              ":" + cfg.Port,
		Engine:            engine,
		Health:            result.Health,
		Logger:            logger,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:    cfg.TrustedProxies,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", applog.FieldError, err.Error())
		_ = result.Cleanup()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err.Error())
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err.Error())
		}
	})

	logger.Info("Starting bilancio server",
		"port", cfg.Port,
		"backend", backendCfg.Type.String(),
		"events", cfg.EventsEnabled(),
		applog.FieldOperation, applog.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err.Error(), "port", cfg.Port)
		_ = result.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
