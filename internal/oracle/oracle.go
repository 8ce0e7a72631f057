// Package oracle provides reference prices for option entry and settlement.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"binary-options-sim/internal/binance"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when no price can be produced for a symbol.
var ErrUnavailable = errors.New("price oracle unavailable")

// PriceOracle returns the current reference price for a symbol.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BinanceOracle adapts the Binance REST client to PriceOracle.
type BinanceOracle struct {
	client binance.PriceClient
}

// NewBinanceOracle wraps client.
func NewBinanceOracle(client binance.PriceClient) *BinanceOracle {
	return &BinanceOracle{client: client}
}

func (o *BinanceOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := o.client.GetTickerPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return price, nil
}

// LastKnown wraps another oracle and remembers the last good price per
// symbol. When the upstream fails it serves the remembered price; only a
// symbol that was never priced yields ErrUnavailable.
type LastKnown struct {
	upstream PriceOracle
	logger   *zap.Logger

	mu   sync.RWMutex
	last map[string]decimal.Decimal
}

// NewLastKnown creates a LastKnown wrapper around upstream.
func NewLastKnown(upstream PriceOracle, logger *zap.Logger) *LastKnown {
	return &LastKnown{
		upstream: upstream,
		logger:   logger.Named("oracle"),
		last:     make(map[string]decimal.Decimal),
	}
}

func (o *LastKnown) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := o.upstream.Price(ctx, symbol)
	if err == nil {
		o.mu.Lock()
		o.last[symbol] = price
		o.mu.Unlock()
		return price, nil
	}

	o.mu.RLock()
	cached, ok := o.last[symbol]
	o.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s: %v", ErrUnavailable, symbol, err)
	}
	o.logger.Warn("Upstream price failed, serving last known price",
		zap.String("symbol", symbol), zap.String("price", cached.String()), zap.Error(err))
	return cached, nil
}
