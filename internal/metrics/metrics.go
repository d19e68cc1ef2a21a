// Package metrics provides Prometheus metrics for the collection manager.
// Scrape these at /metrics for dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Reconciliation Metrics
	ImportRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_import_records_total",
			Help: "Catalog records processed by the reconciliation engine",
		},
		[]string{"result"}, // "inserted", "duplicate", "failed"
	)

	ImportBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_import_batch_duration_seconds",
			Help:    "Time taken to reconcile one catalog batch",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	CardsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_cards_created_total",
			Help: "New Card rows created during reconciliation",
		},
	)

	SetsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_sets_created_total",
			Help: "New CardSet rows created during reconciliation",
		},
	)

	// Pricing Metrics
	PriceUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_price_updates_total",
			Help: "Total number of printing prices updated",
		},
	)

	PriceBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_price_batch_duration_seconds",
			Help:    "Time taken to process a price update batch",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	PriceQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_price_queue_size",
			Help: "Printings waiting in the priority refresh queue",
		},
	)

	ProductMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_product_matches_total",
			Help: "Price provider product search outcomes",
		},
		[]string{"result"}, // "matched", "ambiguous", "none"
	)

	TCGRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_tcgplayer_requests_total",
			Help: "Total number of TCGPlayer API requests made",
		},
	)

	ScryfallRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_scryfall_requests_total",
			Help: "Total number of Scryfall API requests made",
		},
	)

	// Currency Metrics
	RateRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_rate_refreshes_total",
			Help: "Exchange rate refresh runs",
		},
	)

	// Collection Metrics
	CollectionCardsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_collection_cards_total",
			Help: "Total number of cards owned across all users",
		},
	)

	LedgerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_ledger_mutations_total",
			Help: "Ledger operations by kind",
		},
		[]string{"op"}, // "add", "remove", "edit"
	)
)
