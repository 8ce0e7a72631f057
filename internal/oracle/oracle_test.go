package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPriceClient struct {
	mock.Mock
}

func (m *mockPriceClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPriceClient) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func TestBinanceOracle_WrapsErrors(t *testing.T) {
	// Arrange
	client := new(mockPriceClient)
	client.On("GetTickerPrice", mock.Anything, "BTCUSDT").Return(decimal.Zero, errors.New("timeout"))

	// Act
	_, err := NewBinanceOracle(client).Price(context.Background(), "BTCUSDT")

	// Assert
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "timeout")
	client.AssertExpectations(t)
}

func TestLastKnown(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := new(mockPriceClient)
	client.On("GetTickerPrice", mock.Anything, "BTCUSDT").Return(decimal.NewFromInt(60000), nil).Once()
	client.On("GetTickerPrice", mock.Anything, "BTCUSDT").Return(decimal.Zero, errors.New("down")).Once()
	client.On("GetTickerPrice", mock.Anything, "ETHUSDT").Return(decimal.Zero, errors.New("down")).Once()

	o := NewLastKnown(NewBinanceOracle(client), zap.NewNop())

	// Act
	first, err := o.Price(ctx, "BTCUSDT")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "60000", first.String())

	fallback, err := o.Price(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, first.Equal(fallback))

	_, err = o.Price(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, ErrUnavailable)
	client.AssertExpectations(t)
}

func TestRandomWalk(t *testing.T) {
	// Arrange
	w := NewRandomWalk(map[string]float64{"BTCUSDT": 60000}, 0.001, 7)

	// Act & Assert
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		p, err := w.Price(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.True(t, p.IsPositive())
		seen[p.String()] = true
	}
	assert.Greater(t, len(seen), 1, "walk should move")

	_, err := w.Price(context.Background(), "DOGEUSDT")
	assert.ErrorIs(t, err, ErrUnavailable)
}
