package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "rows_processed_total",
			Help:      "Manifest rows processed by outcome (complete, partial, empty)",
		},
		[]string{"outcome"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "cache_lookups_total",
			Help:      "Reference cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "extractions_total",
			Help:      "Extraction attempts by result (single, multi, none, error)",
		},
		[]string{"result"},
	)

	extractionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardbatch",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of card-detection service calls",
			Buckets:   prometheus.DefBuckets,
		},
	)

	selectionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cardbatch",
			Name:      "selections_pending",
			Help:      "Pending operator selections across active runs",
		},
	)

	selectionsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "selections_resolved_total",
			Help:      "Operator selections resolved",
		},
	)

	pagesAssembled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "pages_assembled_total",
			Help:      "Document pages written during assembly",
		},
	)

	imagesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardbatch",
			Name:      "images_skipped_total",
			Help:      "Images skipped during assembly because they could not be decoded",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(rowsProcessed, cacheLookups, extractions, extractionLatency,
		selectionsPending, selectionsResolved, pagesAssembled, imagesSkipped)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncRow(outcome string)    { rowsProcessed.WithLabelValues(outcome).Inc() }
func IncCache(result string)   { cacheLookups.WithLabelValues(result).Inc() }
func IncExtract(result string) { extractions.WithLabelValues(result).Inc() }

func ObserveExtraction(dur time.Duration) { extractionLatency.Observe(dur.Seconds()) }

func AddPendingSelections(delta int) { selectionsPending.Add(float64(delta)) }
func IncResolved()                   { selectionsResolved.Inc() }
func AddPagesAssembled(n int)        { pagesAssembled.Add(float64(n)) }
func IncImageSkipped()               { imagesSkipped.Inc() }
