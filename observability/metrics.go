// Package observability provides the slog logging setup (logging/) and the
// prometheus collectors the engine, crank, and oracle packages record
// outcomes into.
//
// Grounded on observability/metrics.go's lazily-initialised sync.Once
// CounterVec/HistogramVec registries, with the teacher's RPC-module/payoutd/
// swap-stable registries replaced by one registry per domain concern:
// trades, liquidations, crank sweeps, and oracle resolutions.
package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TradeMetrics tracks TradeNoCpi/TradeCpi outcomes.
type TradeMetrics struct {
	fills *prometheus.CounterVec
	fees  prometheus.Histogram
}

var (
	tradeMetricsOnce sync.Once
	tradeRegistry    *TradeMetrics
)

// Trade returns the singleton trade-outcome metrics registry.
func Trade() *TradeMetrics {
	tradeMetricsOnce.Do(func() {
		tradeRegistry = &TradeMetrics{
			fills: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "trade",
				Name:      "fills_total",
				Help:      "Count of trade attempts segmented by outcome.",
			}, []string{"outcome"}),
			fees: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "percolat",
				Subsystem: "trade",
				Name:      "fee_units",
				Help:      "Distribution of per-leg trading fees charged, in collateral units.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
			}),
		}
		prometheus.MustRegister(tradeRegistry.fills, tradeRegistry.fees)
	})
	return tradeRegistry
}

// RecordFill increments the fill counter for the supplied outcome ("ok" or
// an errcode-derived reason) and, on success, observes the fee charged.
func (m *TradeMetrics) RecordFill(outcome string, feeUnits float64) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(labelOutcome(outcome)).Inc()
	if outcome == "ok" {
		m.fees.Observe(feeUnits)
	}
}

// LiquidationMetrics tracks LiquidateAtOracle outcomes.
type LiquidationMetrics struct {
	closes      *prometheus.CounterVec
	forcedFull  prometheus.Counter
	closedUnits prometheus.Histogram
}

var (
	liquidationMetricsOnce sync.Once
	liquidationRegistry    *LiquidationMetrics
)

// Liquidation returns the singleton liquidation-outcome metrics registry.
func Liquidation() *LiquidationMetrics {
	liquidationMetricsOnce.Do(func() {
		liquidationRegistry = &LiquidationMetrics{
			closes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "liquidation",
				Name:      "closes_total",
				Help:      "Count of liquidation attempts segmented by outcome.",
			}, []string{"outcome"}),
			forcedFull: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "liquidation",
				Name:      "forced_full_closes_total",
				Help:      "Count of liquidations that closed the full position because it was at or below min_liquidation_abs or no smaller close restored the buffered maintenance margin.",
			}),
			closedUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "percolat",
				Subsystem: "liquidation",
				Name:      "closed_size_units",
				Help:      "Distribution of position size closed per liquidation.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 16),
			}),
		}
		prometheus.MustRegister(
			liquidationRegistry.closes,
			liquidationRegistry.forcedFull,
			liquidationRegistry.closedUnits,
		)
	})
	return liquidationRegistry
}

// RecordClose records one liquidation's outcome and, on success, whether it
// was forced to close the full position.
func (m *LiquidationMetrics) RecordClose(outcome string, forcedFull bool, closedUnits float64) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(labelOutcome(outcome)).Inc()
	if outcome != "ok" {
		return
	}
	m.closedUnits.Observe(closedUnits)
	if forcedFull {
		m.forcedFull.Inc()
	}
}

// CrankMetrics tracks keeper sweep outcomes.
type CrankMetrics struct {
	sweeps             *prometheus.CounterVec
	duration           prometheus.Histogram
	liquidatableFlags  prometheus.Counter
	riskReductionState prometheus.Gauge
	autoRecoveries     prometheus.Counter
}

var (
	crankMetricsOnce sync.Once
	crankRegistry    *CrankMetrics
)

// Crank returns the singleton crank-sweep metrics registry.
func Crank() *CrankMetrics {
	crankMetricsOnce.Do(func() {
		crankRegistry = &CrankMetrics{
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "crank",
				Name:      "sweeps_total",
				Help:      "Count of keeper sweeps segmented by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "percolat",
				Subsystem: "crank",
				Name:      "sweep_duration_seconds",
				Help:      "Wall-clock duration of a keeper sweep.",
				Buckets:   prometheus.DefBuckets,
			}),
			liquidatableFlags: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "crank",
				Name:      "liquidatable_flags_total",
				Help:      "Cumulative count of accounts flagged liquidatable across all sweeps.",
			}),
			riskReductionState: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "percolat",
				Subsystem: "crank",
				Name:      "risk_reduction_only",
				Help:      "1 while the market is in risk-reduction-only mode, 0 otherwise.",
			}),
			autoRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "crank",
				Name:      "auto_recoveries_total",
				Help:      "Count of sweeps that ran the stranded-funds auto-recovery path.",
			}),
		}
		prometheus.MustRegister(
			crankRegistry.sweeps,
			crankRegistry.duration,
			crankRegistry.liquidatableFlags,
			crankRegistry.riskReductionState,
			crankRegistry.autoRecoveries,
		)
	})
	return crankRegistry
}

// RecordSweep records one sweep's outcome, duration, and the side effects it
// produced.
func (m *CrankMetrics) RecordSweep(outcome string, d time.Duration, liquidatableCount int, riskReductionOnly, ranAutoRecovery bool) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(labelOutcome(outcome)).Inc()
	m.duration.Observe(d.Seconds())
	if liquidatableCount > 0 {
		m.liquidatableFlags.Add(float64(liquidatableCount))
	}
	if riskReductionOnly {
		m.riskReductionState.Set(1)
	} else {
		m.riskReductionState.Set(0)
	}
	if ranAutoRecovery {
		m.autoRecoveries.Inc()
	}
}

// OracleMetrics tracks oracle.Resolve outcomes.
type OracleMetrics struct {
	resolutions *prometheus.CounterVec
}

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Oracle returns the singleton oracle-resolution metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "percolat",
				Subsystem: "oracle",
				Name:      "resolutions_total",
				Help:      "Count of price resolutions segmented by source and outcome.",
			}, []string{"source", "outcome"}),
		}
		prometheus.MustRegister(oracleRegistry.resolutions)
	})
	return oracleRegistry
}

// RecordResolution records one Resolve call. source is "authority" or
// "feed"; outcome is "ok" or an errcode-derived reason.
func (m *OracleMetrics) RecordResolution(source, outcome string) {
	if m == nil {
		return
	}
	src := strings.TrimSpace(source)
	if src == "" {
		src = "unknown"
	}
	m.resolutions.WithLabelValues(src, labelOutcome(outcome)).Inc()
}

func labelOutcome(outcome string) string {
	trimmed := strings.TrimSpace(outcome)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
