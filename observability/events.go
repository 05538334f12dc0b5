package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketGauges tracks the slab's point-in-time aggregates, sampled once per
// crank sweep rather than on every mutation.
//
// Grounded on observability/events.go's lazily-initialised CounterVec
// registry shape, adapted here to gauges since these values are levels
// (balances, open interest) rather than monotonic counts.
type MarketGauges struct {
	insuranceBalance *prometheus.GaugeVec
	vaultBalance     prometheus.Gauge
	openInterest     prometheus.Gauge
	lossAccum        prometheus.Gauge
}

var (
	marketGaugesOnce sync.Once
	marketGaugeReg   *MarketGauges
)

// Market returns the singleton market-state gauge registry.
func Market() *MarketGauges {
	marketGaugesOnce.Do(func() {
		marketGaugeReg = &MarketGauges{
			insuranceBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "percolat",
				Subsystem: "market",
				Name:      "insurance_balance",
				Help:      "Insurance fund balance, segmented by component (balance or fee_revenue).",
			}, []string{"component"}),
			vaultBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "percolat",
				Subsystem: "market",
				Name:      "vault_balance",
				Help:      "Total collateral held by the market's vault image.",
			}),
			openInterest: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "percolat",
				Subsystem: "market",
				Name:      "open_interest",
				Help:      "Total open interest across all accounts.",
			}),
			lossAccum: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "percolat",
				Subsystem: "market",
				Name:      "loss_accum",
				Help:      "Outstanding uninsured loss awaiting socialization.",
			}),
		}
		prometheus.MustRegister(
			marketGaugeReg.insuranceBalance,
			marketGaugeReg.vaultBalance,
			marketGaugeReg.openInterest,
			marketGaugeReg.lossAccum,
		)
	})
	return marketGaugeReg
}

// Sample records the current value of every tracked aggregate.
func (m *MarketGauges) Sample(insuranceBalance, insuranceFeeRevenue, vault, openInterest, lossAccum *big.Int) {
	if m == nil {
		return
	}
	m.insuranceBalance.WithLabelValues("balance").Set(bigToFloat(insuranceBalance))
	m.insuranceBalance.WithLabelValues("fee_revenue").Set(bigToFloat(insuranceFeeRevenue))
	m.vaultBalance.Set(bigToFloat(vault))
	m.openInterest.Set(bigToFloat(openInterest))
	m.lossAccum.Set(bigToFloat(lossAccum))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
