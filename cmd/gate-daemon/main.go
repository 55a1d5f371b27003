package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zerotrust-labs/agent-gate/app"
	"github.com/zerotrust-labs/agent-gate/config"
	"github.com/zerotrust-labs/agent-gate/internal/observability"
	"github.com/zerotrust-labs/agent-gate/routes"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gate-daemon: %v", err)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	deps.StartWorkers()

	// SIGHUP reloads the policy file without restarting
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			version, err := deps.ReloadPolicies()
			if err != nil {
				logger.Error("SIGHUP policy reload failed, previous snapshot still active",
					zap.Error(err))
				continue
			}
			logger.Info("SIGHUP policy reload complete", zap.Uint64("version", version))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gate-daemon listening",
			zap.String("addr", addr),
			zap.String("workspace", cfg.Workspace.Root))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining")
	signal.Stop(hup)
	close(hup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	if err := deps.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("dependency shutdown incomplete", zap.Error(err))
	}

	logger.Info("gate-daemon stopped")
	return nil
}
