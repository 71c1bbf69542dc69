package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry       *prometheus.Registry
	subItemsTotal  *prometheus.CounterVec
	unitsTotal     *prometheus.CounterVec
	recordsTotal   prometheus.Counter
	stageDuration  *prometheus.HistogramVec
	snapshotWrites prometheus.Counter
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		subItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_subitems_total",
				Help: "Total number of sub-items processed per stage",
			},
			[]string{"stage", "status"},
		),
		unitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_units_total",
				Help: "Total number of work units finished",
			},
			[]string{"status"},
		),
		recordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_records_inserted_total",
				Help: "Total records inserted into the store",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Time taken to run one stage of one unit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		snapshotWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_checkpoint_writes_total",
				Help: "Total checkpoint snapshot writes",
			},
		),
	}

	c.registry.MustRegister(c.subItemsTotal)
	c.registry.MustRegister(c.unitsTotal)
	c.registry.MustRegister(c.recordsTotal)
	c.registry.MustRegister(c.stageDuration)
	c.registry.MustRegister(c.snapshotWrites)

	return c
}

// AddSubItems records sub-item outcomes for a stage
func (c *Collector) AddSubItems(stage string, succeeded, skipped int) {
	c.subItemsTotal.WithLabelValues(stage, "success").Add(float64(succeeded))
	c.subItemsTotal.WithLabelValues(stage, "skipped").Add(float64(skipped))
}

// IncUnit records one finished unit with the given final status
func (c *Collector) IncUnit(status string) {
	c.unitsTotal.WithLabelValues(status).Inc()
}

// AddRecords adds to the inserted record counter
func (c *Collector) AddRecords(count int) {
	c.recordsTotal.Add(float64(count))
}

// ObserveStageDuration observes one stage run duration
func (c *Collector) ObserveStageDuration(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncSnapshotWrite counts one checkpoint write
func (c *Collector) IncSnapshotWrite() {
	c.snapshotWrites.Inc()
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
