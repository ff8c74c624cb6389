package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/patent-crawler/internal/progress"
)

// PrometheusSink turns run events into counters and histograms.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRecords    prometheus.Histogram
	runDuration   prometheus.Histogram

	modeFallbacks  prometheus.Counter
	searchOutcomes *prometheus.CounterVec
	detailFetches  *prometheus.CounterVec
	fieldsEmpty    *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg (default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patents_runs_started_total",
			Help: "Extraction runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patents_runs_completed_total",
			Help: "Extraction runs completed, partitioned by result (records or empty).",
		}, []string{"result"}),
		runRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patents_run_records",
			Help:    "Records returned per run.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patents_run_duration_seconds",
			Help:    "Wall time per run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		modeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patents_mode_fallbacks_total",
			Help: "Runs that could not start their preferred fetch mode.",
		}),
		searchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patents_search_outcomes_total",
			Help: "Search attempts partitioned by outcome.",
		}, []string{"outcome"}),
		detailFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patents_detail_fetches_total",
			Help: "Detail page fetches partitioned by result and mode.",
		}, []string{"result", "mode"}),
		fieldsEmpty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patents_fields_empty_total",
			Help: "Fields whose tactics all came up empty.",
		}, []string{"field"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRecords,
		s.runDuration,
		s.modeFallbacks,
		s.searchOutcomes,
		s.detailFetches,
		s.fieldsEmpty,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		result := "records"
		if evt.Count == 0 {
			result = "empty"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		s.runRecords.Observe(float64(evt.Count))
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageModeFallback:
		s.modeFallbacks.Inc()
	case progress.StageSearchDone:
		outcome := "found"
		if evt.Count == 0 {
			outcome = "none"
		}
		s.searchOutcomes.WithLabelValues(outcome).Inc()
	case progress.StageSearchFailed:
		s.searchOutcomes.WithLabelValues("failed").Inc()
	case progress.StageDetailDone:
		s.detailFetches.WithLabelValues("ok", modeLabel(evt.Mode)).Inc()
	case progress.StageDetailFailed:
		s.detailFetches.WithLabelValues("failed", modeLabel(evt.Mode)).Inc()
	case progress.StageFieldEmpty:
		s.fieldsEmpty.WithLabelValues(evt.Field).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func modeLabel(mode string) string {
	if mode == "" {
		return "unknown"
	}
	return mode
}
