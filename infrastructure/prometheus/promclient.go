package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var TradesIngested = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "footprint_trades_ingested_total",
	Help: "trades applied to the footprint aggregator",
})

var MalformedMessages = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "footprint_malformed_messages_total",
	Help: "stream messages dropped at the ingestion boundary",
})

var CandlesFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "footprint_candles_finalized_total",
	Help: "candles finalized per timeframe",
}, []string{"timeframe"})

var ExportFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "footprint_export_failures_total",
	Help: "CSV export ticks that failed",
})

var BookLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "footprint_orderbook_levels",
	Help: "price levels currently held per book side",
}, []string{"side"})

// SynchronizerStats feeds the gauge functions registered by
// RegisterSynchronizer; populated from the synchronizer counters.
type SynchronizerStats struct {
	Applied     int64
	Stale       int64
	Gaps        int64
	Resnapshots int64
}

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		TradesIngested,
		MalformedMessages,
		CandlesFinalized,
		ExportFailures,
		BookLevels,
		collectors.NewGoCollector(),
	)
}

// RegisterSynchronizer exposes the synchronizer counters as gauges.
func RegisterSynchronizer(stats func() SynchronizerStats) {
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "footprint_depth_diffs_applied_total",
			Help: "depth diffs applied to the order book",
		}, func() float64 { return float64(stats().Applied) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "footprint_depth_diffs_stale_total",
			Help: "depth diffs discarded as stale",
		}, func() float64 { return float64(stats().Stale) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "footprint_sequence_gaps_total",
			Help: "sequencing gaps detected on the depth stream",
		}, func() float64 { return float64(stats().Gaps) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "footprint_resnapshots_total",
			Help: "order book bootstraps from a REST snapshot",
		}, func() float64 { return float64(stats().Resnapshots) }),
	)
}

// StartServer serves the /metrics endpoint; blocks until the listener fails.
func StartServer(addr string, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	log.WithField("addr", addr).Info("prometheus server listening")
	return http.ListenAndServe(addr, mux)
}
