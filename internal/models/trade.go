package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the price movement a trade predicts.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a recognised direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	StatusActive    TradeStatus = "active"
	StatusCompleted TradeStatus = "completed"
)

// TradeResult is pending while a trade is active and final once completed.
type TradeResult string

const (
	ResultPending   TradeResult = "pending"
	ResultWin       TradeResult = "win"
	ResultLose      TradeResult = "lose"
	ResultCancelled TradeResult = "cancelled"
)

// Outcome is an explicit settlement decision, either forced by an admin or
// produced by an outcome policy.
type Outcome string

const (
	OutcomeWin    Outcome = "win"
	OutcomeLose   Outcome = "lose"
	OutcomeCancel Outcome = "cancel"
)

// Valid reports whether o is a recognised outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLose || o == OutcomeCancel
}

// Result maps the outcome onto the trade result it produces.
func (o Outcome) Result() TradeResult {
	switch o {
	case OutcomeWin:
		return ResultWin
	case OutcomeLose:
		return ResultLose
	default:
		return ResultCancelled
	}
}

// Trade is a single timed up/down position.
// Status moves active -> completed exactly once; Profit is authoritative only
// after completion.
type Trade struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	UserID          string           `gorm:"index;not null" json:"user_id"`
	Asset           string           `gorm:"not null" json:"asset"`
	Symbol          string           `gorm:"not null" json:"symbol"`
	Direction       Direction        `gorm:"size:8;not null" json:"direction"`
	Stake           decimal.Decimal  `gorm:"type:text;not null" json:"stake"`
	DurationSeconds int              `gorm:"not null" json:"duration_seconds"`
	ProfitRate      decimal.Decimal  `gorm:"type:text;not null" json:"profit_rate"`
	EntryPrice      decimal.Decimal  `gorm:"type:text;not null" json:"entry_price"`
	ExitPrice       *decimal.Decimal `gorm:"type:text" json:"exit_price,omitempty"`
	Status          TradeStatus      `gorm:"size:16;index:idx_status_expires;not null" json:"status"`
	Result          TradeResult      `gorm:"size:16;not null" json:"result"`
	Profit          decimal.Decimal  `gorm:"type:text;not null" json:"profit"`
	Forced          bool             `gorm:"not null;default:false" json:"forced"`
	PayoutApplied   bool             `gorm:"index;not null;default:false" json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `gorm:"index:idx_status_expires;not null" json:"expires_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Active reports whether the trade is still awaiting settlement.
func (t *Trade) Active() bool {
	return t.Status == StatusActive
}

// WinProfit is the profit credited on top of the stake if the trade wins,
// at the rate fixed when it opened.
func (t *Trade) WinProfit() decimal.Decimal {
	return t.Stake.Mul(t.ProfitRate)
}

// Payout is the amount returned to the balance when the trade settles:
// stake plus profit on a win, the stake on a cancel, nothing on a loss.
func (t *Trade) Payout() decimal.Decimal {
	switch t.Result {
	case ResultWin:
		return t.Stake.Add(t.Profit)
	case ResultCancelled:
		return t.Stake
	default:
		return decimal.Zero
	}
}
