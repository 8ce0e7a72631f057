package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	// Arrange
	reg := prometheus.NewRegistry()
	m := New(reg)

	// Act
	m.TradesOpened.WithLabelValues("BTCUSDT").Inc()
	m.TradesSettled.WithLabelValues("win", "true").Inc()
	m.ArmedTimers.Set(3)

	// Assert
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["options_trades_opened_total"])
	assert.True(t, names["options_trades_settled_total"])
	assert.True(t, names["options_armed_timers"])

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TradesSettled.WithLabelValues("win", "true")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ArmedTimers))
}

func TestNewNop_DoesNotPanicOnReuse(t *testing.T) {
	// Arrange
	a := NewNop()
	b := NewNop()

	// Act
	a.SettlementConflicts.Inc()
	b.SettlementConflicts.Inc()

	// Assert
	assert.Equal(t, float64(1), testutil.ToFloat64(a.SettlementConflicts))
}
