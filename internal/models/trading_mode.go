package models

import "time"

// TradingMode is the per-user settlement override set by an admin.
type TradingMode string

const (
	ModeNormal     TradingMode = "normal"
	ModeForcedWin  TradingMode = "forced-win"
	ModeForcedLose TradingMode = "forced-lose"
)

// Valid reports whether m is a recognised mode.
func (m TradingMode) Valid() bool {
	return m == ModeNormal || m == ModeForcedWin || m == ModeForcedLose
}

// UserTradingMode persists the override for one user.
type UserTradingMode struct {
	UserID    string      `gorm:"primaryKey;size:64"`
	Mode      TradingMode `gorm:"size:16;not null"`
	UpdatedAt time.Time
}
