package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics records ledger call outcomes and vault balances.
type LendingMetrics struct {
	calls         *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	statusChecks  *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	simulations   *prometheus.CounterVec
	vaultAssets   *prometheus.GaugeVec
	vaultBorrows  *prometheus.GaugeVec
	vaultUtilised *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_calls_total",
				Help: "Count of ledger calls by kind and resulting error code.",
			}, []string{"kind", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lending_call_duration_seconds",
				Help:    "Latency of ledger calls including deferred status checks.",
				Buckets: prometheus.DefBuckets,
			}, []string{"kind"}),
			statusChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_status_check_failures_total",
				Help: "Count of failed deferred status checks by target and error code.",
			}, []string{"target", "code"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of liquidations by liability vault.",
			}, []string{"vault"}),
			simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_simulations_total",
				Help: "Count of batch simulations by predicted outcome.",
			}, []string{"outcome"}),
			vaultAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_vault_total_assets",
				Help: "Total assets (cash plus borrows) held by each vault, in asset base units.",
			}, []string{"vault"}),
			vaultBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_vault_total_borrows",
				Help: "Outstanding borrows of each vault, in asset base units.",
			}, []string{"vault"}),
			vaultUtilised: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_vault_utilisation_ratio",
				Help: "Borrows divided by total assets for each vault.",
			}, []string{"vault"}),
		}
		prometheus.MustRegister(
			lendingRegistry.calls,
			lendingRegistry.latency,
			lendingRegistry.statusChecks,
			lendingRegistry.liquidations,
			lendingRegistry.simulations,
			lendingRegistry.vaultAssets,
			lendingRegistry.vaultBorrows,
			lendingRegistry.vaultUtilised,
		)
	})
	return lendingRegistry
}

// ObserveCall records one call. An empty code marks success.
func (m *LendingMetrics) ObserveCall(kind, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.calls.WithLabelValues(kind, code).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveStatusCheckFailure records a failed account or vault check.
func (m *LendingMetrics) ObserveStatusCheckFailure(vault bool, code string) {
	if m == nil {
		return
	}
	target := "account"
	if vault {
		target = "vault"
	}
	if code == "" {
		code = "unknown"
	}
	m.statusChecks.WithLabelValues(target, code).Inc()
}

func (m *LendingMetrics) ObserveLiquidation(vault string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(vault).Inc()
}

func (m *LendingMetrics) ObserveSimulation(failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.simulations.WithLabelValues(outcome).Inc()
}

// SetVaultTotals publishes a vault's balances. Values beyond float64
// precision are approximated.
func (m *LendingMetrics) SetVaultTotals(vault string, totalAssets, totalBorrows *uint256.Int) {
	if m == nil {
		return
	}
	assets := toFloat(totalAssets)
	borrows := toFloat(totalBorrows)
	m.vaultAssets.WithLabelValues(vault).Set(assets)
	m.vaultBorrows.WithLabelValues(vault).Set(borrows)
	utilisation := 0.0
	if assets > 0 {
		utilisation = borrows / assets
	}
	m.vaultUtilised.WithLabelValues(vault).Set(utilisation)
}

// Calls exposes the call counter for tests.
func (m *LendingMetrics) Calls() *prometheus.CounterVec { return m.calls }

// StatusChecks exposes the status check counter for tests.
func (m *LendingMetrics) StatusChecks() *prometheus.CounterVec { return m.statusChecks }

// Liquidations exposes the liquidation counter for tests.
func (m *LendingMetrics) Liquidations() *prometheus.CounterVec { return m.liquidations }

// Utilisation exposes the utilisation gauge for tests.
func (m *LendingMetrics) Utilisation() *prometheus.GaugeVec { return m.vaultUtilised }

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
