package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the durable record of one (user, asset) balance.
// Rows are created lazily and never deleted.
type Balance struct {
	UserID    string          `gorm:"primaryKey;size:64"`
	Asset     string          `gorm:"primaryKey;size:16"`
	Available decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// EntryKind classifies a ledger journal entry.
type EntryKind string

const (
	EntryInitial EntryKind = "initial"
	EntryDebit   EntryKind = "debit"
	EntryCredit  EntryKind = "credit"
)

// LedgerEntry is the journal row written alongside every balance mutation.
// Ref is unique, which makes a retried credit with the same ref a no-op.
type LedgerEntry struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Ref          string          `gorm:"uniqueIndex;size:128;not null" json:"ref"`
	UserID       string          `gorm:"index:idx_entry_owner;size:64;not null" json:"user_id"`
	Asset        string          `gorm:"index:idx_entry_owner;size:16;not null" json:"asset"`
	Kind         EntryKind       `gorm:"size:16;not null" json:"kind"`
	Amount       decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:text;not null" json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}
