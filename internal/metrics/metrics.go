// Registers:
//
//	#orderflow_trades_ingested_total
//	#orderflow_batches_normalized_total
//	#orderflow_snapshots_computed_total
//	#orderflow_recompute_duration_seconds
//	#orderflow_signals_total
//	#orderflow_messages_dropped_total
//	#orderflow_archive_uploads_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured listen address using the Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once              sync.Once
	tradesIngested    *prometheus.CounterVec
	batchesNormalized *prometheus.CounterVec
	snapshotsComputed *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	signalsTriggered  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	archiveUploads    *prometheus.CounterVec
)

func Init(addr string) {
	once.Do(func() {
		tradesIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_trades_ingested_total",
				Help: "Number of trade events ingested from exchange feeds",
			},
			[]string{"exchange", "source"},
		)

		batchesNormalized = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_batches_normalized_total",
				Help: "Number of trade batches produced by the normalizer",
			},
			[]string{"exchange", "symbol"},
		)

		snapshotsComputed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_snapshots_computed_total",
				Help: "Number of profile snapshots computed by the analyzer",
			},
			[]string{"exchange", "symbol"},
		)

		recomputeDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderflow_recompute_duration_seconds",
				Help:    "Time spent recomputing volume profile and delta per snapshot",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"exchange", "symbol"},
		)

		signalsTriggered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_signals_total",
				Help: "Number of trading signals triggered",
			},
			[]string{"kind", "exchange", "symbol"},
		)

		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_messages_dropped_total",
				Help: "Number of messages dropped on full channel buffers",
			},
			[]string{"stage"},
		)

		archiveUploads = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_archive_uploads_total",
				Help: "Number of snapshot archive files uploaded",
			},
			[]string{"exchange"},
		)

		_ = prometheus.Register(tradesIngested)
		_ = prometheus.Register(batchesNormalized)
		_ = prometheus.Register(snapshotsComputed)
		_ = prometheus.Register(recomputeDuration)
		_ = prometheus.Register(signalsTriggered)
		_ = prometheus.Register(messagesDropped)
		_ = prometheus.Register(archiveUploads)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			addr = "0.0.0.0:2112"
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementTradesIngested adds n to the ingested counter for an exchange feed.
func IncrementTradesIngested(exchange, source string, n int) {
	if tradesIngested != nil && n > 0 {
		tradesIngested.WithLabelValues(exchange, source).Add(float64(n))
	}
}

// IncrementBatchesNormalized increases the normalized batch counter.
func IncrementBatchesNormalized(exchange, symbol string) {
	if batchesNormalized != nil {
		batchesNormalized.WithLabelValues(exchange, symbol).Inc()
	}
}

// IncrementSnapshotsComputed increases the snapshot counter for a symbol.
func IncrementSnapshotsComputed(exchange, symbol string) {
	if snapshotsComputed != nil {
		snapshotsComputed.WithLabelValues(exchange, symbol).Inc()
	}
}

// ObserveRecomputeDuration records one profile recompute duration in seconds.
func ObserveRecomputeDuration(exchange, symbol string, seconds float64) {
	if recomputeDuration != nil {
		recomputeDuration.WithLabelValues(exchange, symbol).Observe(seconds)
	}
}

// IncrementSignals increases the signal counter for a signal kind.
func IncrementSignals(kind, exchange, symbol string) {
	if signalsTriggered != nil {
		signalsTriggered.WithLabelValues(kind, exchange, symbol).Inc()
	}
}

// IncrementDropped increases the dropped message counter for a pipeline stage.
func IncrementDropped(stage string) {
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(stage).Inc()
	}
}

// IncrementArchiveUploads increases the archive upload counter.
func IncrementArchiveUploads(exchange string) {
	if archiveUploads != nil {
		archiveUploads.WithLabelValues(exchange).Inc()
	}
}
