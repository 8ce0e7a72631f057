package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"binary-options-sim/internal/events"
	"binary-options-sim/internal/ledger"
	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/models"
	"binary-options-sim/internal/modes"
	"binary-options-sim/internal/oracle"
	"binary-options-sim/internal/scheduler"
	"binary-options-sim/internal/settlement"
	"binary-options-sim/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidParameters covers every user-correctable open or force request
	// error other than insufficient funds.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrPriceUnavailable is returned when no entry price can be obtained.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// OpenRequest is a request to open one option.
type OpenRequest struct {
	UserID          string
	Symbol          string
	Direction       models.Direction
	Stake           decimal.Decimal
	DurationSeconds int
}

// Deps are the components the engine orchestrates.
type Deps struct {
	Ledger    *ledger.Ledger
	Trades    *store.TradeStore
	Modes     *modes.Registry
	Scheduler *scheduler.Scheduler
	Oracle    oracle.PriceOracle
	Profits   *settlement.ProfitTable
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Clock     scheduler.Clock
}

// Engine is the entry point for UI and admin callers. It sequences the
// ledger, trade store and scheduler for each operation.
type Engine struct {
	logger  *zap.Logger
	symbols map[string]bool
	Deps
}

// NewEngine creates an Engine accepting trades on symbols. An empty symbol
// list accepts any symbol the oracle can price.
func NewEngine(logger *zap.Logger, symbols []string, deps Deps) *Engine {
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = scheduler.RealClock{}
	}
	known := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		known[strings.ToUpper(s)] = true
	}
	return &Engine{logger: logger.Named("engine"), symbols: known, Deps: deps}
}

func (e *Engine) validate(req *OpenRequest) (settlement.Rate, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.UserID == "" {
		return settlement.Rate{}, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	if !req.Direction.Valid() {
		return settlement.Rate{}, fmt.Errorf("%w: direction must be up or down", ErrInvalidParameters)
	}
	if req.Symbol == "" || (len(e.symbols) > 0 && !e.symbols[req.Symbol]) {
		return settlement.Rate{}, fmt.Errorf("%w: unsupported symbol %q", ErrInvalidParameters, req.Symbol)
	}
	if req.DurationSeconds <= 0 {
		return settlement.Rate{}, fmt.Errorf("%w: duration must be positive", ErrInvalidParameters)
	}
	rate, ok := e.Profits.Lookup(req.DurationSeconds)
	if !ok {
		return settlement.Rate{}, fmt.Errorf("%w: unsupported duration %ds", ErrInvalidParameters, req.DurationSeconds)
	}
	if req.Stake.LessThan(rate.MinStake) {
		return settlement.Rate{}, fmt.Errorf("%w: amount below minimum %s for %ds", ErrInvalidParameters, rate.MinStake, rate.Seconds)
	}
	return rate, nil
}

// OpenTrade validates req, debits the stake, records the trade and arms its
// settlement. Validation and pricing happen before any state changes, and
// the stake is debited before the trade exists so that no trade is ever
// unbacked.
func (e *Engine) OpenTrade(ctx context.Context, req OpenRequest) (*models.Trade, error) {
	rate, err := e.validate(&req)
	if err != nil {
		return nil, err
	}

	entry, err := e.Oracle.Price(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	id := uuid.NewString()
	asset := e.Ledger.DefaultAsset()
	l := e.logger.With(
		zap.String("trade_id", id),
		zap.String("user_id", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(req.Direction)),
		zap.String("stake", req.Stake.String()),
		zap.Int("duration", req.DurationSeconds),
	)

	if err := e.Ledger.Debit(ctx, req.UserID, asset, req.Stake, ledger.StakeRef(id)); err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	trade := &models.Trade{
		ID:              id,
		UserID:          req.UserID,
		Asset:           asset,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		Stake:           req.Stake,
		DurationSeconds: req.DurationSeconds,
		ProfitRate:      rate.ProfitRate,
		EntryPrice:      entry,
		CreatedAt:       now,
		ExpiresAt:       now.Add(rate.Duration()),
	}
	if err := e.Trades.Create(ctx, trade); err != nil {
		l.Error("Failed to record trade, refunding stake", zap.Error(err))
		if rerr := e.Ledger.Credit(ctx, req.UserID, asset, req.Stake, ledger.RefundRef(id)); rerr != nil {
			l.Error("Stake refund failed", zap.Error(rerr))
		}
		return nil, err
	}

	e.Scheduler.Arm(trade.ID, trade.ExpiresAt)
	e.Metrics.TradesOpened.WithLabelValues(trade.Symbol).Inc()
	e.Publisher.Publish(events.Event{Type: events.TypeTradeOpened, UserID: trade.UserID, Payload: trade})
	l.Info("Trade opened", zap.String("entry_price", entry.String()), zap.Time("expires_at", trade.ExpiresAt))
	return trade, nil
}

// ForceOutcome settles trade id immediately with outcome, bypassing the
// user's trading mode. Forcing a trade that already settled returns the
// settled trade unchanged.
func (e *Engine) ForceOutcome(ctx context.Context, id string, outcome models.Outcome) (*models.Trade, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: outcome must be win, lose or cancel", ErrInvalidParameters)
	}
	trade, err := e.Scheduler.FireNow(ctx, id, &outcome)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Outcome forced",
		zap.String("trade_id", id), zap.String("outcome", string(outcome)), zap.String("result", string(trade.Result)))
	return trade, nil
}

// GetBalance returns the available balance of userID in asset.
func (e *Engine) GetBalance(ctx context.Context, userID, asset string) decimal.Decimal {
	return e.Ledger.GetAvailable(ctx, userID, e.normalizeAsset(asset))
}

// normalizeAsset normalises a caller-supplied asset, defaulting to the ledger's.
func (e *Engine) normalizeAsset(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return e.Ledger.DefaultAsset()
	}
	return asset
}

// Journal returns the most recent ledger entries of userID in asset.
func (e *Engine) Journal(ctx context.Context, userID, asset string, limit int) ([]models.LedgerEntry, error) {
	return e.Ledger.Journal(ctx, userID, e.normalizeAsset(asset), limit)
}

// Balances returns every balance of userID keyed by asset.
func (e *Engine) Balances(ctx context.Context, userID string) (map[string]ledger.BalanceView, error) {
	return e.Ledger.Balances(ctx, userID)
}

// ListTrades returns userID's trades, newest first.
func (e *Engine) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	return e.Trades.ListByUser(ctx, userID)
}

// GetTrade returns one trade.
func (e *Engine) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return e.Trades.Get(ctx, id)
}

// Deposit credits a simulated deposit and returns the new available balance.
func (e *Engine) Deposit(ctx context.Context, userID, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	asset = e.normalizeAsset(asset)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive", ErrInvalidParameters)
	}
	if err := e.Ledger.Credit(ctx, userID, asset, amount, "deposit:"+uuid.NewString()); err != nil {
		return decimal.Zero, err
	}
	e.logger.Info("Deposit credited",
		zap.String("user_id", userID), zap.String("asset", asset), zap.String("amount", amount.String()))
	return e.Ledger.GetAvailable(ctx, userID, asset), nil
}

// SetMode sets userID's trading mode.
func (e *Engine) SetMode(ctx context.Context, userID string, mode models.TradingMode) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidParameters)
	}
	if err := e.Modes.SetMode(ctx, userID, mode); err != nil {
		if errors.Is(err, modes.ErrInvalidMode) {
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		return err
	}
	return nil
}

// GetMode returns userID's trading mode.
func (e *Engine) GetMode(ctx context.Context, userID string) models.TradingMode {
	return e.Modes.GetMode(ctx, userID)
}

// ClearMode resets userID to normal mode.
func (e *Engine) ClearMode(ctx context.Context, userID string) error {
	return e.SetMode(ctx, userID, models.ModeNormal)
}

// Overrides returns every user with a non-normal mode.
func (e *Engine) Overrides() map[string]models.TradingMode {
	return e.Modes.Overrides()
}

// Durations returns the profit table.
func (e *Engine) Durations() []settlement.Rate {
	return e.Profits.Rates()
}
