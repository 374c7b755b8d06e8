// Package metrics exposes ingestion counters as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the ingestion subsystem.
// They mirror the engine's in-process stats so dashboards and the /stats
// bot command agree.
type Metrics struct {
	IngestedTotal       prometheus.Counter
	AnalyzedTotal       prometheus.Counter
	OverlapRescansTotal prometheus.Counter
	RateLimitWaitSecs   prometheus.Counter
	IngestLagSeconds    prometheus.Gauge
	CheckpointMessageID prometheus.Gauge
}

// New creates and registers the ingestion metrics on the given registry.
// Pass prometheus.NewRegistry() in tests to avoid global registration
// conflicts.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_messages_total", Help: "Messages durably upserted by any ingestion path"}),
		AnalyzedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_analyses_total", Help: "Analyses produced and upserted"}),
		OverlapRescansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_overlap_rescans_total", Help: "Completed overlap re-scan passes"}),
		RateLimitWaitSecs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_rate_limit_wait_seconds_total", Help: "Cumulative provider-imposed wait time"}),
		IngestLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_lag_seconds", Help: "Seconds between now and the checkpoint timestamp"}),
		CheckpointMessageID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_checkpoint_message_id", Help: "Last checkpointed message id"}),
	}

	reg.MustRegister(
		m.IngestedTotal, m.AnalyzedTotal, m.OverlapRescansTotal,
		m.RateLimitWaitSecs, m.IngestLagSeconds, m.CheckpointMessageID,
	)
	return m
}

// Handler returns an http.Handler serving the given registry in the
// Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
