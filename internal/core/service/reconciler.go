package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
	"github.com/rl1809/flash-sale/internal/metrics"
)

const reconcileLeaseKey = "reconcile:lease"

type ReconcilerConfig struct {
	Interval        time.Duration
	ReservedTimeout time.Duration
	BatchSize       int
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Skipped    bool
	RolledBack int
	Failed     int
}

// Reconciler periodically resolves reservations that never settled: stale
// Reserved entries are rolled back and their stock returned, stale Initiated
// entries are marked Failed. Instances share a lease so one scans per tick;
// correctness rests on the ledger's compare-and-set, not on the lease.
type Reconciler struct {
	orders     *OrderService
	ledger     *StockLedger
	tier       *StockTier
	cfg        ReconcilerConfig
	instanceID string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewReconciler(orders *OrderService, ledger *StockLedger, tier *StockTier, cfg ReconcilerConfig, logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reconciler{
		orders:     orders,
		ledger:     ledger,
		tier:       tier,
		cfg:        cfg,
		instanceID: NewToken(),
		logger:     logger,
		metrics:    m,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("reserved_timeout", r.cfg.ReservedTimeout))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	held, err := r.tier.Claim(ctx, reconcileLeaseKey, r.instanceID, r.cfg.Interval)
	if err != nil {
		return result, err
	}
	if !held {
		result.Skipped = true
		return result, nil
	}

	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Reconciler.Sweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("rolled_back", result.RolledBack),
			attribute.Int("failed", result.Failed),
		)
		span.End()
		r.metrics.Sweep(time.Since(start).Seconds())
	}()

	reserved, err := r.ledger.Stale(ctx, domain.LedgerStatusReserved, r.cfg.ReservedTimeout, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	for _, entry := range reserved {
		rolled, err := r.orders.Rollback(ctx, entry.Token)
		if err != nil && !errors.Is(err, domain.ErrIllegalTransition) {
			r.logger.Error("Failed to roll back stale reservation", zap.String("token", entry.Token), zap.Error(err))
			continue
		}
		if rolled {
			result.RolledBack++
		}
	}

	initiated, err := r.ledger.Stale(ctx, domain.LedgerStatusInitiated, r.cfg.ReservedTimeout, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	for _, entry := range initiated {
		err := r.ledger.Transition(ctx, entry.Token, domain.LedgerStatusFailed)
		switch {
		case err == nil:
			result.Failed++
		case errors.Is(err, domain.ErrIllegalTransition):
			// moved on since the scan
		default:
			r.logger.Error("Failed to fail stale attempt", zap.String("token", entry.Token), zap.Error(err))
		}
	}

	if result.RolledBack > 0 || result.Failed > 0 {
		r.logger.Info("Reconciliation sweep finished",
			zap.Int("rolled_back", result.RolledBack),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}
