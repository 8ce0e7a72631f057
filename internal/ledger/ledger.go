// Package ledger keeps the simulated available balance of every (user, asset)
// pair.
//
// The database is the durable record; each pair also has an in-memory entry
// holding a mutex and the cached available amount. Every mutation takes the
// pair's mutex, runs one database transaction that updates the balance row
// and appends a journal entry, and only then updates the cache. Pairs are
// spread over shards so that unrelated users never contend on the map lock.
//
// Journal refs are unique. Repeating a Debit or Credit with a ref that has
// already been applied is a no-op, which lets recovery code retry payouts
// without double crediting.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"binary-options-sim/internal/events"
	"binary-options-sim/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const numShards = 64

var (
	// ErrInsufficientFunds is returned by Debit when available < amount.
	ErrInsufficientFunds = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// StakeRef is the journal ref of the stake debited when trade id opens.
func StakeRef(tradeID string) string { return "trade:" + tradeID + ":stake" }

// PayoutRef is the journal ref of the settlement credit for trade id.
func PayoutRef(tradeID string) string { return "trade:" + tradeID + ":payout" }

// RefundRef is the journal ref of a stake returned because trade id could
// not be recorded.
func RefundRef(tradeID string) string { return "trade:" + tradeID + ":refund" }

type key struct {
	userID string
	asset  string
}

type account struct {
	mu        sync.Mutex
	loaded    bool
	available decimal.Decimal
}

type shard struct {
	mu       sync.Mutex
	accounts map[key]*account
}

// BalanceView is the wire shape of one asset balance.
type BalanceView struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	db           *gorm.DB
	logger       *zap.Logger
	publisher    events.Publisher
	defaultAsset string
	initial      decimal.Decimal
	shards       [numShards]shard
}

// NewLedger creates a Ledger over db. New balances of defaultAsset start
// with initial available; every other asset starts at zero.
func NewLedger(db *gorm.DB, logger *zap.Logger, publisher events.Publisher, defaultAsset string, initial decimal.Decimal) *Ledger {
	if publisher == nil {
		publisher = events.Discard{}
	}
	l := &Ledger{
		db:           db,
		logger:       logger.Named("ledger"),
		publisher:    publisher,
		defaultAsset: defaultAsset,
		initial:      initial,
	}
	for i := range l.shards {
		l.shards[i].accounts = make(map[key]*account)
	}
	return l
}

// DefaultAsset is the asset stakes are taken from.
func (l *Ledger) DefaultAsset() string {
	return l.defaultAsset
}

func (l *Ledger) accountFor(k key) *account {
	h := fnv.New32a()
	h.Write([]byte(k.userID))
	h.Write([]byte{0})
	h.Write([]byte(k.asset))
	sh := &l.shards[h.Sum32()%numShards]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	a, ok := sh.accounts[k]
	if !ok {
		a = &account{}
		sh.accounts[k] = a
	}
	return a
}

func (l *Ledger) openingBalance(asset string) decimal.Decimal {
	if asset == l.defaultAsset {
		return l.initial
	}
	return decimal.Zero
}

// GetAvailable returns the available balance. It never fails: unknown pairs
// report their opening balance, and a storage error is logged and reported
// as zero.
func (l *Ledger) GetAvailable(ctx context.Context, userID, asset string) decimal.Decimal {
	k := key{userID: userID, asset: asset}
	a := l.accountFor(k)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return a.available
	}

	var row models.Balance
	err := l.db.WithContext(ctx).Where("user_id = ? AND asset = ?", userID, asset).Take(&row).Error
	switch {
	case err == nil:
		a.available, a.loaded = row.Available, true
		return a.available
	case errors.Is(err, gorm.ErrRecordNotFound):
		return l.openingBalance(asset)
	default:
		l.logger.Error("Failed to read balance", zap.String("user_id", userID), zap.String("asset", asset), zap.Error(err))
		return decimal.Zero
	}
}

// Debit removes amount from the available balance, failing with
// ErrInsufficientFunds when that would make it negative.
func (l *Ledger) Debit(ctx context.Context, userID, asset string, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, userID, asset, amount.Neg(), models.EntryDebit, ref)
}

// Credit adds amount to the available balance.
func (l *Ledger) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, userID, asset, amount, models.EntryCredit, ref)
}

func (l *Ledger) apply(ctx context.Context, userID, asset string, delta decimal.Decimal, kind models.EntryKind, ref string) error {
	if delta.IsZero() || (kind == models.EntryCredit) != delta.IsPositive() {
		return ErrInvalidAmount
	}
	if ref == "" {
		return fmt.Errorf("ledger %s for %s/%s: empty ref", kind, userID, asset)
	}

	k := key{userID: userID, asset: asset}
	a := l.accountFor(k)
	a.mu.Lock()
	defer a.mu.Unlock()

	var after decimal.Decimal
	applied := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&models.LedgerEntry{}).Where("ref = ?", ref).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return nil
		}

		row, err := l.loadOrCreate(tx, userID, asset)
		if err != nil {
			return err
		}

		after = row.Available.Add(delta)
		if after.IsNegative() {
			return fmt.Errorf("%w: need %s, available %s", ErrInsufficientFunds, delta.Neg(), row.Available)
		}

		row.Available = after
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		applied = true
		return tx.Create(&models.LedgerEntry{
			Ref:          ref,
			UserID:       userID,
			Asset:        asset,
			Kind:         kind,
			Amount:       delta.Abs(),
			BalanceAfter: after,
		}).Error
	})
	if err != nil {
		// The transaction rolled back; the cache may be stale if it was never loaded.
		if !errors.Is(err, ErrInsufficientFunds) {
			a.loaded = false
			l.logger.Error("Ledger mutation failed",
				zap.String("user_id", userID), zap.String("asset", asset),
				zap.String("kind", string(kind)), zap.String("ref", ref), zap.Error(err))
		}
		return fmt.Errorf("ledger %s %s: %w", kind, ref, err)
	}
	if !applied {
		l.logger.Debug("Ledger ref already applied", zap.String("ref", ref))
		return nil
	}

	a.available, a.loaded = after, true
	l.logger.Debug("Ledger mutation applied",
		zap.String("user_id", userID), zap.String("asset", asset),
		zap.String("kind", string(kind)), zap.String("amount", delta.Abs().String()),
		zap.String("available", after.String()), zap.String("ref", ref))

	l.publisher.Publish(events.Event{
		Type:   events.TypeBalanceUpdate,
		UserID: userID,
		Payload: map[string]BalanceView{
			asset: {Available: after, Locked: decimal.Zero},
		},
	})
	return nil
}

// loadOrCreate returns the balance row inside tx, creating it with the
// opening balance (and its journal entry) on first reference.
func (l *Ledger) loadOrCreate(tx *gorm.DB, userID, asset string) (*models.Balance, error) {
	var row models.Balance
	err := tx.Where("user_id = ? AND asset = ?", userID, asset).Take(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row = models.Balance{UserID: userID, Asset: asset, Available: l.openingBalance(asset)}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	if row.Available.IsPositive() {
		if err := tx.Create(&models.LedgerEntry{
			Ref:          fmt.Sprintf("initial:%s:%s", userID, asset),
			UserID:       userID,
			Asset:        asset,
			Kind:         models.EntryInitial,
			Amount:       row.Available,
			BalanceAfter: row.Available,
		}).Error; err != nil {
			return nil, err
		}
	}
	return &row, nil
}

// Balances returns every asset balance held by userID, including the default
// asset at its opening amount when it has never been touched.
func (l *Ledger) Balances(ctx context.Context, userID string) (map[string]BalanceView, error) {
	var rows []models.Balance
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list balances for %s: %w", userID, err)
	}

	out := make(map[string]BalanceView, len(rows)+1)
	for _, row := range rows {
		out[row.Asset] = BalanceView{Available: l.GetAvailable(ctx, userID, row.Asset), Locked: decimal.Zero}
	}
	if _, ok := out[l.defaultAsset]; !ok {
		out[l.defaultAsset] = BalanceView{Available: l.GetAvailable(ctx, userID, l.defaultAsset), Locked: decimal.Zero}
	}
	return out, nil
}

// Journal returns the most recent journal entries for a pair, newest first.
func (l *Ledger) Journal(ctx context.Context, userID, asset string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.LedgerEntry
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND asset = ?", userID, asset).
		Order("id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read journal for %s/%s: %w", userID, asset, err)
	}
	return entries, nil
}

// OrphanedStakes returns stake debits that have neither a trade row nor a
// refund. They arise when the process stops between debiting a stake and
// recording its trade. Recently opened trades show up here briefly, so
// callers apply their own age cutoff.
func (l *Ledger) OrphanedStakes(ctx context.Context, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	hasTrade := l.db.Model(&models.Trade{}).
		Select("1").
		Where("ledger_entries.ref = 'trade:' || trades.id || ':stake'")
	refunded := l.db.Table("ledger_entries AS refunds").
		Select("1").
		Where("refunds.ref = REPLACE(ledger_entries.ref, ':stake', ':refund')")

	var entries []models.LedgerEntry
	err := l.db.WithContext(ctx).
		Where("ledger_entries.kind = ? AND ledger_entries.ref LIKE ?", models.EntryDebit, "trade:%:stake").
		Where("NOT EXISTS (?)", hasTrade).
		Where("NOT EXISTS (?)", refunded).
		Order("ledger_entries.id").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned stakes: %w", err)
	}
	return entries, nil
}

// TradeIDFromStakeRef extracts the trade id from a StakeRef.
func TradeIDFromStakeRef(ref string) (string, bool) {
	id, ok := strings.CutPrefix(ref, "trade:")
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, ":stake")
	return id, ok && id != ""
}
