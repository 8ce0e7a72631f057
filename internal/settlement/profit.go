package settlement

import (
	"fmt"
	"sort"
	"time"

	"binary-options-sim/internal/config"
	"github.com/shopspring/decimal"
)

// Rate is one duration bucket of the profit table.
type Rate struct {
	Seconds    int             `json:"seconds"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
	MinStake   decimal.Decimal `json:"min_stake"`
}

// Duration returns the bucket length.
func (r Rate) Duration() time.Duration {
	return time.Duration(r.Seconds) * time.Second
}

// ProfitTable maps option durations to their profit rate and minimum stake.
// It is immutable after construction.
type ProfitTable struct {
	rates map[int]Rate
	list  []Rate
}

// NewProfitTable parses the configured duration table.
func NewProfitTable(durations []config.Duration) (*ProfitTable, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("duration table is empty")
	}
	t := &ProfitTable{rates: make(map[int]Rate, len(durations))}
	for _, d := range durations {
		if d.Seconds <= 0 {
			return nil, fmt.Errorf("duration %d: seconds must be positive", d.Seconds)
		}
		if _, dup := t.rates[d.Seconds]; dup {
			return nil, fmt.Errorf("duration %d listed twice", d.Seconds)
		}
		rate, err := decimal.NewFromString(d.ProfitRate)
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("duration %d: invalid profit_rate %q", d.Seconds, d.ProfitRate)
		}
		minStake, err := decimal.NewFromString(d.MinStake)
		if err != nil || !minStake.IsPositive() {
			return nil, fmt.Errorf("duration %d: invalid min_stake %q", d.Seconds, d.MinStake)
		}
		r := Rate{Seconds: d.Seconds, ProfitRate: rate, MinStake: minStake}
		t.rates[d.Seconds] = r
		t.list = append(t.list, r)
	}
	sort.Slice(t.list, func(i, j int) bool { return t.list[i].Seconds < t.list[j].Seconds })
	return t, nil
}

// Lookup returns the bucket for an exact duration.
func (t *ProfitTable) Lookup(seconds int) (Rate, bool) {
	r, ok := t.rates[seconds]
	return r, ok
}

// Rates returns every bucket ordered by duration.
func (t *ProfitTable) Rates() []Rate {
	return append([]Rate(nil), t.list...)
}
