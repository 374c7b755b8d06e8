package ingest

import (
	"sync/atomic"
	"time"

	"github.com/nisilag/telegram-analysis-service/internal/metrics"
)

// Stats is a point-in-time snapshot of ingestion counters.
type Stats struct {
	IngestedTotal       int64     `json:"ingested_total"`
	AnalyzedTotal       int64     `json:"analyzed_total"`
	OverlapRescansTotal int64     `json:"overlap_rescans_total"`
	RateLimitWaitSecs   float64   `json:"rate_limit_wait_seconds"`
	CheckpointMessageID int64     `json:"checkpoint_message_id"`
	LagSeconds          float64   `json:"lag_seconds"`
	CollectedAt         time.Time `json:"collected_at"`
}

// statsCollector accumulates monotonic ingestion counters. All methods are
// safe for concurrent use; the live handlers, backfill loop and rescan loop
// all write to it. When a metrics sink is attached the Prometheus counters
// are advanced in lockstep.
type statsCollector struct {
	ingested      atomic.Int64
	analyzed      atomic.Int64
	rescans       atomic.Int64
	rateLimitWait atomic.Int64 // milliseconds

	sink *metrics.Metrics
}

func newStatsCollector(sink *metrics.Metrics) *statsCollector {
	return &statsCollector{sink: sink}
}

func (s *statsCollector) addIngested(n int64) {
	s.ingested.Add(n)
	if s.sink != nil {
		s.sink.IngestedTotal.Add(float64(n))
	}
}

func (s *statsCollector) addAnalyzed(n int64) {
	s.analyzed.Add(n)
	if s.sink != nil {
		s.sink.AnalyzedTotal.Add(float64(n))
	}
}

func (s *statsCollector) addRescan() {
	s.rescans.Add(1)
	if s.sink != nil {
		s.sink.OverlapRescansTotal.Inc()
	}
}

func (s *statsCollector) addRateLimitWait(d time.Duration) {
	s.rateLimitWait.Add(d.Milliseconds())
	if s.sink != nil {
		s.sink.RateLimitWaitSecs.Add(d.Seconds())
	}
}

func (s *statsCollector) snapshot() Stats {
	return Stats{
		IngestedTotal:       s.ingested.Load(),
		AnalyzedTotal:       s.analyzed.Load(),
		OverlapRescansTotal: s.rescans.Load(),
		RateLimitWaitSecs:   float64(s.rateLimitWait.Load()) / 1000,
	}
}
