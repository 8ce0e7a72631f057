// Package store persists trades. TryComplete is the only mutation path after
// creation; it is a compare-and-swap on the trade's status, so at most one
// caller ever settles a given trade.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binary-options-sim/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("trade not found")
	ErrDuplicateID      = errors.New("duplicate trade id")
	ErrAlreadyCompleted = errors.New("trade already completed")
)

// Completion holds the fields written when a trade settles.
type Completion struct {
	Result      models.TradeResult
	ExitPrice   decimal.Decimal
	Profit      decimal.Decimal
	CompletedAt time.Time
	Forced      bool
}

// TradeStore is the source of truth for whether a trade is still open.
type TradeStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTradeStore creates a TradeStore over db.
func NewTradeStore(db *gorm.DB, logger *zap.Logger) *TradeStore {
	return &TradeStore{db: db, logger: logger.Named("trade-store")}
}

// Create inserts trade as active with a pending result.
func (s *TradeStore) Create(ctx context.Context, trade *models.Trade) error {
	trade.Status = models.StatusActive
	trade.Result = models.ResultPending
	trade.Profit = decimal.Zero
	trade.ExitPrice = nil
	trade.CompletedAt = nil
	trade.PayoutApplied = false

	err := s.db.WithContext(ctx).Create(trade).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, trade.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create trade %s: %w", trade.ID, err)
	}
	return nil
}

// Get returns the trade with id.
func (s *TradeStore) Get(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}
	return &trade, nil
}

// TryComplete settles trade id with the fields returned by mutate, provided
// the trade is still active. mutate sees the current record. If another
// caller completed the trade first, ErrAlreadyCompleted is returned and the
// mutation is discarded.
func (s *TradeStore) TryComplete(ctx context.Context, id string, mutate func(models.Trade) Completion) (*models.Trade, error) {
	var completed models.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Trade
		if err := tx.Where("id = ?", id).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		if !current.Active() {
			return ErrAlreadyCompleted
		}

		c := mutate(current)
		if c.CompletedAt.IsZero() {
			c.CompletedAt = time.Now().UTC()
		}

		current.Status = models.StatusCompleted
		current.Result = c.Result
		current.ExitPrice = &c.ExitPrice
		current.Profit = c.Profit
		current.CompletedAt = &c.CompletedAt
		current.Forced = c.Forced
		// Losses return nothing, so there is no payout left to apply.
		current.PayoutApplied = current.Payout().IsZero()

		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", id, models.StatusActive).
			Updates(map[string]any{
				"status":         current.Status,
				"result":         current.Result,
				"exit_price":     c.ExitPrice,
				"profit":         current.Profit,
				"completed_at":   c.CompletedAt,
				"forced":         current.Forced,
				"payout_applied": current.PayoutApplied,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyCompleted
		}
		completed = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to complete trade %s: %w", id, err)
	}

	s.logger.Debug("Trade completed",
		zap.String("trade_id", id),
		zap.String("result", string(completed.Result)),
		zap.String("profit", completed.Profit.String()))
	return &completed, nil
}

// MarkPayoutApplied records that the settlement credit for id has been made.
func (s *TradeStore) MarkPayoutApplied(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.StatusCompleted).
		Update("payout_applied", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark payout for trade %s: %w", id, err)
	}
	return nil
}

// ListByUser returns userID's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades for %s: %w", userID, err)
	}
	return trades, nil
}

// ListActive returns every active trade ordered by expiry.
func (s *TradeStore) ListActive(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Order("expires_at asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active trades: %w", err)
	}
	return trades, nil
}

// ListUnpaid returns completed trades whose payout credit has not been
// recorded as applied.
func (s *TradeStore) ListUnpaid(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("status = ? AND payout_applied = ?", models.StatusCompleted, false).
		Order("completed_at asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid trades: %w", err)
	}
	return trades, nil
}
