// Package reconcile repairs trades the scheduler lost track of, typically
// after a restart. It retries payouts recorded as unapplied, settles active
// trades whose expiry has passed and re-arms the rest. With a ledger
// configured it also refunds stakes whose trade was never recorded.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/scheduler"
	"binary-options-sim/internal/settlement"
	"binary-options-sim/internal/store"
	"go.uber.org/zap"
)

// Report summarises one sweep.
type Report struct {
	PayoutsApplied int `json:"payouts_applied"`
	ExpiredSettled int `json:"expired_settled"`
	Rearmed        int `json:"rearmed"`
	StakesRefunded int `json:"stakes_refunded"`
	Failed         int `json:"failed"`
}

const orphanBatch = 100

type Sweeper struct {
	store     *store.TradeStore
	resolver  *settlement.Resolver
	scheduler *scheduler.Scheduler
	clock     scheduler.Clock
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger

	ledger      *ledger.Ledger
	orphanGrace time.Duration
}

// Option customises a Sweeper.
type Option func(*Sweeper)

// WithOrphanRefunds refunds stake debits that have had no trade for longer
// than grace. grace must exceed the time OpenTrade takes between debiting
// and recording a trade.
func WithOrphanRefunds(l *ledger.Ledger, grace time.Duration) Option {
	return func(s *Sweeper) {
		s.ledger = l
		s.orphanGrace = grace
	}
}

// NewSweeper creates a Sweeper that runs every interval once started.
func NewSweeper(
	trades *store.TradeStore,
	resolver *settlement.Resolver,
	sched *scheduler.Scheduler,
	clock scheduler.Clock,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Sweeper {
	if m == nil {
		m = metrics.NewNop()
	}
	s := &Sweeper{
		store:     trades,
		resolver:  resolver,
		scheduler: sched,
		clock:     clock,
		interval:  interval,
		metrics:   m,
		logger:    logger.Named("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep makes one reconciliation pass. Individual trade failures are counted
// and logged; only a failure to list trades is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	unpaid, err := s.store.ListUnpaid(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	for i := range unpaid {
		trade := &unpaid[i]
		if err := s.resolver.ApplyPayout(ctx, trade); err != nil {
			report.Failed++
			s.logger.Error("Failed to apply payout", zap.String("trade_id", trade.ID), zap.Error(err))
			continue
		}
		report.PayoutsApplied++
		s.metrics.SweepRecoveries.WithLabelValues(metrics.RecoveryPayout).Inc()
		s.logger.Info("Recovered unapplied payout",
			zap.String("trade_id", trade.ID), zap.String("result", string(trade.Result)))
	}

	active, err := s.store.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	now := s.clock.Now()
	for _, trade := range active {
		if trade.ExpiresAt.After(now) {
			if !s.scheduler.IsArmed(trade.ID) {
				s.scheduler.Arm(trade.ID, trade.ExpiresAt)
				report.Rearmed++
				s.metrics.SweepRecoveries.WithLabelValues(metrics.RecoveryRearmed).Inc()
			}
			continue
		}
		if _, err := s.scheduler.FireNow(ctx, trade.ID, nil); err != nil {
			report.Failed++
			s.logger.Error("Failed to settle expired trade", zap.String("trade_id", trade.ID), zap.Error(err))
			continue
		}
		report.ExpiredSettled++
		s.metrics.SweepRecoveries.WithLabelValues(metrics.RecoveryExpired).Inc()
	}

	if s.ledger != nil {
		if err := s.refundOrphans(ctx, now, &report); err != nil {
			return report, fmt.Errorf("sweep: %w", err)
		}
	}

	if report != (Report{}) {
		s.logger.Info("Sweep complete",
			zap.Int("payouts_applied", report.PayoutsApplied),
			zap.Int("expired_settled", report.ExpiredSettled),
			zap.Int("rearmed", report.Rearmed),
			zap.Int("stakes_refunded", report.StakesRefunded),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

// refundOrphans credits back stakes debited for trades that were never
// recorded. The refund ref makes a repeated refund a no-op.
func (s *Sweeper) refundOrphans(ctx context.Context, now time.Time, report *Report) error {
	orphans, err := s.ledger.OrphanedStakes(ctx, orphanBatch)
	if err != nil {
		return err
	}
	cutoff := now.Add(-s.orphanGrace)
	for _, entry := range orphans {
		if entry.CreatedAt.After(cutoff) {
			continue
		}
		id, ok := ledger.TradeIDFromStakeRef(entry.Ref)
		if !ok {
			continue
		}
		if _, err := s.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			// Recorded after all, or unreadable; either way not ours to refund now.
			continue
		}

		l := s.logger.With(
			zap.String("trade_id", id),
			zap.String("user_id", entry.UserID),
			zap.String("amount", entry.Amount.String()))
		if err := s.ledger.Credit(ctx, entry.UserID, entry.Asset, entry.Amount, ledger.RefundRef(id)); err != nil {
			report.Failed++
			l.Error("Failed to refund orphaned stake", zap.Error(err))
			continue
		}
		report.StakesRefunded++
		s.metrics.SweepRecoveries.WithLabelValues(metrics.RecoveryStake).Inc()
		l.Info("Refunded stake of unrecorded trade")
	}
	return nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting reconciliation loop", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping reconciliation loop")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}
