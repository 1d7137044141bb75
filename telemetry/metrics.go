// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollPasses        prometheus.Counter
	CharactersChecked prometheus.Counter
	MessagesFound     prometheus.Counter
	MessagesProcessed prometheus.Counter
	RepliesSent       prometheus.Counter
	DedupHits         prometheus.Counter
	PollSkipsOverlap  prometheus.Counter
	LLMCalls          prometheus.Counter
	UpstreamErrors    *prometheus.CounterVec

	// Histograms (seconds)
	LLMCallDuration  prometheus.Observer
	PollPassDuration prometheus.Observer

	// Gauges
	SelectionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollPasses = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_poll_passes_total", Help: "Number of poll passes executed"})
		CharactersChecked = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_characters_checked_total", Help: "Number of character/room pairs checked across poll passes"})
		MessagesFound = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_messages_found_total", Help: "Number of remote messages observed"})
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_messages_processed_total", Help: "Number of messages processed and recorded"})
		RepliesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_replies_sent_total", Help: "Number of replies sent back to the chat API"})
		DedupHits = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_dedup_hits_total", Help: "Number of messages skipped as already processed"})
		PollSkipsOverlap = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_poll_skips_overlap_total", Help: "Number of poll ticks skipped because the previous pass was still running"})
		LLMCalls = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_llm_calls_total", Help: "Number of completion API calls"})
		UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bridge_upstream_errors_total", Help: "Upstream failures by service"}, []string{"service"})
		LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bridge_llm_call_duration_seconds", Help: "Completion call duration seconds", Buckets: prometheus.DefBuckets})
		PollPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bridge_poll_pass_duration_seconds", Help: "Poll pass duration seconds", Buckets: prometheus.DefBuckets})
		SelectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bridge_selections", Help: "Current number of character/room pairs selected for polling"})
	})
}

// RecordUpstreamError bumps the per-service failure counter.
func RecordUpstreamError(service string) {
	if UpstreamErrors != nil {
		UpstreamErrors.WithLabelValues(service).Inc()
	}
}

// SetSelections records the current tracked pair count.
func SetSelections(n int) {
	if SelectionsGauge != nil {
		SelectionsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
