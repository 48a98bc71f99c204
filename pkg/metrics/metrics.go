// Package metrics registers the Prometheus instruments shared by the
// daemons and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ObserverCursor is the last observed block per chain.
	ObserverCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zexporta_observer_last_block",
		Help: "Last observed block number per chain.",
	}, []string{"chain"})

	// TransfersObserved counts persisted user transfers per chain.
	TransfersObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zexporta_transfers_observed_total",
		Help: "User transfers persisted by the observer.",
	}, []string{"chain"})

	// TransfersFinalized counts PENDING->FINALIZED transitions per chain.
	TransfersFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zexporta_transfers_finalized_total",
		Help: "Transfers promoted to FINALIZED.",
	}, []string{"chain"})

	// TransfersReorged counts PENDING->REORG transitions per chain.
	TransfersReorged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zexporta_transfers_reorged_total",
		Help: "Transfers demoted to REORG.",
	}, []string{"chain"})

	// VaultSweeps counts vault sweep transactions per chain and kind.
	VaultSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zexporta_vault_sweeps_total",
		Help: "Vault depositor transactions by kind (contract_deploy, token_transfer).",
	}, []string{"chain", "kind"})

	// Withdraws counts withdraw outcomes per chain and terminal status.
	Withdraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zexporta_withdraws_total",
		Help: "Withdraw requests by outcome.",
	}, []string{"chain", "status"})
)

// Serve exposes /metrics on addr. Blocks; run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
