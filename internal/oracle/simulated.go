package oracle

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// RandomWalk is an offline price source. Every read moves the symbol's price
// by a normally distributed relative step.
type RandomWalk struct {
	mu         sync.Mutex
	prices     map[string]float64
	volatility float64
	rng        *rand.Rand
}

// NewRandomWalk seeds the walk with start prices per symbol.
func NewRandomWalk(start map[string]float64, volatility float64, seed int64) *RandomWalk {
	prices := make(map[string]float64, len(start))
	for symbol, p := range start {
		prices[symbol] = p
	}
	return &RandomWalk{
		prices:     prices,
		volatility: volatility,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (w *RandomWalk) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown symbol %s", ErrUnavailable, symbol)
	}
	p *= 1 + w.rng.NormFloat64()*w.volatility
	p = math.Max(p, 0.00000001)
	w.prices[symbol] = p
	return decimal.NewFromFloat(p).Round(8), nil
}
