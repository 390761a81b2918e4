// Package main запускает HTTP-сервер сервиса начисления баллов и лидербордов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/claimboard/internal/clock"
	"github.com/mmeshcher/claimboard/internal/config"
	"github.com/mmeshcher/claimboard/internal/handler"
	"github.com/mmeshcher/claimboard/internal/middleware"
	"github.com/mmeshcher/claimboard/internal/repository"
	"github.com/mmeshcher/claimboard/internal/service"
)

func openRepository(cfg *config.Config) (service.Repository, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	case config.DriverSQLite:
		return repository.NewSQLiteRepository(cfg.DatabaseURI)
	default:
		return repository.NewMemoryRepository(), nil
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "driver", cfg.StorageDriver, "error", err.Error())
	}

	calendar := clock.Calendar{
		DailyOffset:   cfg.DailyOffset,
		UniformBounds: cfg.UniformWindowBounds,
	}

	svc := service.NewService(repo, service.Options{
		Clock:          clock.System{},
		Calendar:       &calendar,
		StorageTimeout: cfg.StorageTimeout,
		StorageRetries: &cfg.StorageRetries,
	})
	defer svc.Close()

	reconciler := service.NewReconciler(repo, logger, cfg.ReconcileInterval, cfg.StorageTimeout)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.CORSOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая сверка балансов с журналом начислений
	g.Go(func() error {
		return reconciler.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting claimboard server", "addr", cfg.RunAddress, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
