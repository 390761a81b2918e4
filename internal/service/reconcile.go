package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Reconciler периодически сверяет балансы пользователей с журналом начислений.
// Журнал считается источником истины: расходящийся баланс перезаписывается суммой начислений.
type Reconciler struct {
	repo     Repository
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewReconciler создаёт сверку с указанным интервалом. Интервал 0 отключает фоновый запуск.
func NewReconciler(repo Repository, logger *zap.Logger, interval, timeout time.Duration) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &Reconciler{
		repo:     repo,
		logger:   logger.With(zap.String("component", "reconciler")),
		interval: interval,
		timeout:  timeout,
	}
}

// ReconcileOnce исправляет все найденные расхождения и возвращает число исправленных балансов.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	drifts, err := r.repo.BalanceDrifts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drifts: %w", err)
	}

	repaired := 0
	for _, d := range drifts {
		before, after, err := r.repo.RepairBalance(ctx, d.UserID)
		if err != nil {
			return repaired, fmt.Errorf("repair balance of user %d: %w", d.UserID, err)
		}
		if before == after {
			continue
		}
		repaired++
		r.logger.Warn("balance repaired",
			zap.Int64("userID", d.UserID),
			zap.String("username", d.Username),
			zap.Int64("balance", before),
			zap.Int64("ledgerSum", after),
		)
	}

	return repaired, nil
}

// Run запускает сверку по расписанию и блокируется до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("reconciliation failed", zap.Error(err))
			}
		}),
		gocron.WithName("ledger-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}

	sched.Start()
	r.logger.Info("reconciliation scheduled", zap.Duration("interval", r.interval))

	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
