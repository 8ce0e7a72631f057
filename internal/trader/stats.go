package trader

import (
	"context"
	"time"

	"binary-options-sim/internal/models"
	"github.com/shopspring/decimal"
)

// StatsDetail holds settled-trade statistics for one period.
type StatsDetail struct {
	TotalTrades int64           `json:"total_trades"`
	Wins        int64           `json:"wins"`
	Losses      int64           `json:"losses"`
	Cancelled   int64           `json:"cancelled"`
	WinRate     float64         `json:"win_rate"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

// Statistics is the per-user statistics report.
type Statistics struct {
	UserID   string      `json:"user_id"`
	Active   int64       `json:"active"`
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

func (s *StatsDetail) add(trade *models.Trade) {
	s.TotalTrades++
	switch trade.Result {
	case models.ResultWin:
		s.Wins++
		s.NetProfit = s.NetProfit.Add(trade.Profit)
	case models.ResultLose:
		s.Losses++
		s.NetProfit = s.NetProfit.Sub(trade.Stake)
	case models.ResultCancelled:
		s.Cancelled++
	}
}

func (s *StatsDetail) finish() {
	// Pushes and cancels are excluded from the win rate.
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided)
	}
}

// Stats calculates userID's trading statistics. Net profit counts a loss as
// the forfeited stake and a cancellation as zero.
func (e *Engine) Stats(ctx context.Context, userID string) (Statistics, error) {
	trades, err := e.Trades.ListByUser(ctx, userID)
	if err != nil {
		return Statistics{}, err
	}

	since24h := e.Clock.Now().Add(-24 * time.Hour)
	stats := Statistics{UserID: userID}
	for i := range trades {
		trade := &trades[i]
		if trade.Active() {
			stats.Active++
			continue
		}
		stats.AllTime.add(trade)
		if trade.CompletedAt != nil && trade.CompletedAt.After(since24h) {
			stats.Since24h.add(trade)
		}
	}
	stats.AllTime.finish()
	stats.Since24h.finish()
	return stats, nil
}
