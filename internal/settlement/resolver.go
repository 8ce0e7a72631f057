// Package settlement turns active trades into completed ones.
//
// The resolver completes the trade in the store before touching the ledger.
// Only the caller whose TryComplete succeeds credits the payout, so a natural
// timer firing and an admin force on the same trade produce one balance
// mutation. A payout that fails after completion stays recorded as unapplied
// and is retried by the reconciliation sweep from the stored result.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"binary-options-sim/internal/events"
	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/models"
	"binary-options-sim/internal/modes"
	"binary-options-sim/internal/oracle"
	"binary-options-sim/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Resolver struct {
	store     *store.TradeStore
	ledger    *ledger.Ledger
	modes     *modes.Registry
	oracle    oracle.PriceOracle
	policy    OutcomePolicy
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithPublisher sets where trade_completed events go.
func WithPublisher(p events.Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// WithMetrics sets the collectors updated on settlement.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock sets the source of completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver.
func NewResolver(
	trades *store.TradeStore,
	balances *ledger.Ledger,
	registry *modes.Registry,
	prices oracle.PriceOracle,
	policy OutcomePolicy,
	logger *zap.Logger,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		store:     trades,
		ledger:    balances,
		modes:     registry,
		oracle:    prices,
		policy:    policy,
		publisher: events.Discard{},
		metrics:   metrics.NewNop(),
		logger:    logger.Named("resolver"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settle resolves trade id. A non-nil forced outcome is used as is; otherwise
// the user's trading mode applies, and in normal mode the outcome policy
// decides. Settling a trade that is already completed is not an error: the
// stored trade is returned unchanged.
func (r *Resolver) Settle(ctx context.Context, id string, forced *models.Outcome) (*models.Trade, error) {
	if forced != nil && !forced.Valid() {
		return nil, fmt.Errorf("invalid outcome %q", *forced)
	}

	trade, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !trade.Active() {
		return trade, nil
	}

	exit := r.exitPrice(ctx, trade)
	outcome, overridden := r.decide(ctx, trade, exit, forced)

	completed, err := r.store.TryComplete(ctx, id, func(current models.Trade) store.Completion {
		profit := decimal.Zero
		if outcome == models.OutcomeWin {
			profit = current.WinProfit()
		}
		return store.Completion{
			Result:      outcome.Result(),
			ExitPrice:   exit,
			Profit:      profit,
			CompletedAt: r.now(),
			Forced:      overridden,
		}
	})
	if errors.Is(err, store.ErrAlreadyCompleted) {
		r.metrics.SettlementConflicts.Inc()
		r.logger.Debug("Trade already settled by another caller", zap.String("trade_id", id))
		return r.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	l := r.logger.With(
		zap.String("trade_id", id),
		zap.String("user_id", completed.UserID),
		zap.String("result", string(completed.Result)),
		zap.String("profit", completed.Profit.String()),
		zap.Bool("forced", overridden),
	)
	l.Info("Trade settled")
	r.metrics.TradesSettled.WithLabelValues(string(completed.Result), strconv.FormatBool(overridden)).Inc()

	if err := r.ApplyPayout(ctx, completed); err != nil {
		// The trade stays unpaid in the store; the sweep retries it.
		l.Error("Payout failed, deferring to sweep", zap.Error(err))
	}

	r.publisher.Publish(events.Event{
		Type:    events.TypeTradeCompleted,
		UserID:  completed.UserID,
		Payload: completed,
	})
	return completed, nil
}

// ApplyPayout credits the recorded payout of a completed trade and marks it
// applied. It is safe to call repeatedly: the ledger ignores a payout ref it
// has already journaled.
func (r *Resolver) ApplyPayout(ctx context.Context, trade *models.Trade) error {
	if trade.Active() {
		return fmt.Errorf("trade %s is still active", trade.ID)
	}
	if trade.PayoutApplied {
		return nil
	}
	if amount := trade.Payout(); amount.IsPositive() {
		if err := r.ledger.Credit(ctx, trade.UserID, trade.Asset, amount, ledger.PayoutRef(trade.ID)); err != nil {
			return err
		}
	}
	if err := r.store.MarkPayoutApplied(ctx, trade.ID); err != nil {
		return err
	}
	trade.PayoutApplied = true
	return nil
}

func (r *Resolver) exitPrice(ctx context.Context, trade *models.Trade) decimal.Decimal {
	price, err := r.oracle.Price(ctx, trade.Symbol)
	if err != nil {
		r.metrics.OracleFallbacks.Inc()
		r.logger.Warn("Oracle unavailable at settlement, using entry price",
			zap.String("trade_id", trade.ID), zap.String("symbol", trade.Symbol), zap.Error(err))
		return trade.EntryPrice
	}
	return price
}

// decide returns the outcome and whether it was imposed rather than natural.
func (r *Resolver) decide(ctx context.Context, trade *models.Trade, exit decimal.Decimal, forced *models.Outcome) (models.Outcome, bool) {
	if forced != nil {
		return *forced, true
	}
	switch r.modes.GetMode(ctx, trade.UserID) {
	case models.ModeForcedWin:
		return models.OutcomeWin, true
	case models.ModeForcedLose:
		return models.OutcomeLose, true
	}
	return r.policy.Decide(*trade, exit), false
}
