// Package metrics holds the Prometheus collectors updated by the engine:
//
//	options_trades_opened_total{symbol}            trades accepted by OpenTrade
//	options_trades_settled_total{result,forced}    settlements that won the completion race
//	options_settlement_conflicts_total             settlements that lost it
//	options_oracle_fallbacks_total                 exit prices replaced by the entry price
//	options_sweep_recoveries_total{kind}           repairs made by the reconciliation sweep
//	options_armed_timers                           settlement timers currently pending
//
// Collectors are registered against the Registerer passed to New so tests can
// use a private registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "options"

// Sweep recovery kinds.
const (
	RecoveryPayout  = "payout"
	RecoveryExpired = "expired"
	RecoveryRearmed = "rearmed"
	RecoveryStake   = "stake"
)

type Metrics struct {
	TradesOpened        *prometheus.CounterVec
	TradesSettled       *prometheus.CounterVec
	SettlementConflicts prometheus.Counter
	OracleFallbacks     prometheus.Counter
	SweepRecoveries     *prometheus.CounterVec
	ArmedTimers         prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_opened_total",
				Help:      "Trades opened",
			},
			[]string{"symbol"},
		),
		TradesSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_settled_total",
				Help:      "Trades settled, by result and whether the outcome was forced",
			},
			[]string{"result", "forced"},
		),
		SettlementConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_conflicts_total",
				Help:      "Settlement attempts that found the trade already completed",
			},
		),
		OracleFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_fallbacks_total",
				Help:      "Settlements that used the entry price because the oracle failed",
			},
		),
		SweepRecoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_recoveries_total",
				Help:      "Trades repaired by the reconciliation sweep",
			},
			[]string{"kind"},
		),
		ArmedTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "armed_timers",
				Help:      "Settlement timers currently armed",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.TradesOpened,
			m.TradesSettled,
			m.SettlementConflicts,
			m.OracleFallbacks,
			m.SweepRecoveries,
			m.ArmedTimers,
		)
	}
	return m
}

// NewNop returns unregistered collectors, for callers that do not export
// metrics.
func NewNop() *Metrics {
	return New(nil)
}
