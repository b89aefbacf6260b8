package service

import (
	"context"
	"time"

	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

// Reconciler periodically stops stale projects and restarts missing workers,
// catching auto-stops that were lost to a crash between delivery and status
// write.
type Reconciler struct {
	lifecycle *LifecycleService
	interval  time.Duration
}

func NewReconciler(lifecycle *LifecycleService, interval time.Duration) *Reconciler {
	return &Reconciler{
		lifecycle: lifecycle,
		interval:  interval,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		logger.Info("reconciler disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.lifecycle.Reconcile(ctx); err != nil {
				logger.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}
