package modes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"binary-options-sim/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidMode is returned when setting an unrecognised mode.
var ErrInvalidMode = errors.New("invalid trading mode")

// Registry stores the per-user trading-mode override. Writes go to the
// database first and then to the in-memory map; reads are served from memory.
// Last write wins.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger

	mu    sync.RWMutex
	modes map[string]models.TradingMode
}

// NewRegistry loads every stored override into memory.
func NewRegistry(ctx context.Context, db *gorm.DB, logger *zap.Logger) (*Registry, error) {
	var rows []models.UserTradingMode
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load trading modes: %w", err)
	}

	r := &Registry{
		db:     db,
		logger: logger.Named("modes"),
		modes:  make(map[string]models.TradingMode, len(rows)),
	}
	for _, row := range rows {
		if row.Mode != models.ModeNormal {
			r.modes[row.UserID] = row.Mode
		}
	}
	r.logger.Info("Trading modes loaded", zap.Int("overrides", len(r.modes)))
	return r, nil
}

// SetMode records mode for userID. Setting ModeNormal clears the override.
func (r *Registry) SetMode(ctx context.Context, userID string, mode models.TradingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row := models.UserTradingMode{UserID: userID, Mode: mode}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store trading mode for %s: %w", userID, err)
	}

	if mode == models.ModeNormal {
		delete(r.modes, userID)
	} else {
		r.modes[userID] = mode
	}
	r.logger.Info("Trading mode set", zap.String("user_id", userID), zap.String("mode", string(mode)))
	return nil
}

// GetMode returns the override for userID, ModeNormal when unset.
func (r *Registry) GetMode(_ context.Context, userID string) models.TradingMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mode, ok := r.modes[userID]; ok {
		return mode
	}
	return models.ModeNormal
}

// Overrides returns a copy of every non-normal mode.
func (r *Registry) Overrides() map[string]models.TradingMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.TradingMode, len(r.modes))
	for user, mode := range r.modes {
		out[user] = mode
	}
	return out
}
