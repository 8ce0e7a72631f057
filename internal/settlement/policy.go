package settlement

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"binary-options-sim/internal/config"
	"binary-options-sim/internal/models"
	"github.com/shopspring/decimal"
)

const (
	PolicyPrice  = "price"
	PolicyRandom = "random"
)

// OutcomePolicy decides the natural outcome of a trade whose user has no
// trading-mode override.
type OutcomePolicy interface {
	// Name returns the configured name of the policy.
	Name() string

	// Decide returns the outcome for trade given the exit price.
	Decide(trade models.Trade, exit decimal.Decimal) models.Outcome
}

// PriceDirection wins when the exit price moved in the predicted direction
// and loses when it moved against it. An unchanged price is a push and
// cancels the trade.
type PriceDirection struct{}

func (PriceDirection) Name() string { return PolicyPrice }

func (PriceDirection) Decide(trade models.Trade, exit decimal.Decimal) models.Outcome {
	cmp := exit.Cmp(trade.EntryPrice)
	if cmp == 0 {
		return models.OutcomeCancel
	}
	if (cmp > 0) == (trade.Direction == models.DirectionUp) {
		return models.OutcomeWin
	}
	return models.OutcomeLose
}

// CoinFlip ignores prices and wins with a fixed probability.
type CoinFlip struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
}

// NewCoinFlip returns a CoinFlip that wins with probability p.
func NewCoinFlip(p float64, seed int64) *CoinFlip {
	return &CoinFlip{rng: rand.New(rand.NewSource(seed)), probability: p}
}

func (c *CoinFlip) Name() string { return PolicyRandom }

func (c *CoinFlip) Decide(models.Trade, decimal.Decimal) models.Outcome {
	c.mu.Lock()
	roll := c.rng.Float64()
	c.mu.Unlock()
	if roll < c.probability {
		return models.OutcomeWin
	}
	return models.OutcomeLose
}

// NewPolicy builds the policy named in cfg.
func NewPolicy(cfg config.Settlement) (OutcomePolicy, error) {
	switch cfg.Policy {
	case "", PolicyPrice:
		return PriceDirection{}, nil
	case PolicyRandom:
		if cfg.WinProbability < 0 || cfg.WinProbability > 1 {
			return nil, fmt.Errorf("settlement.win_probability must be within [0, 1], got %v", cfg.WinProbability)
		}
		return NewCoinFlip(cfg.WinProbability, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown settlement policy %q", cfg.Policy)
	}
}
