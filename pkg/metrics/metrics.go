// Package metrics exposes Prometheus collectors for workout rendering.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// RendersTotal counts pipeline runs.
	// Labels: outcome (success/validation/synthesis/mix/export/timeout/error)
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_audio_renders_total",
			Help: "Total number of workout renders by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration observes the wall time of each pipeline stage.
	// Labels: stage (validate/speech/background/composite/normalize/export)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workout_audio_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// StrategyAttemptsTotal counts background acquisition attempts.
	// Labels: strategy (ytdlp-primary/.../invidious), outcome (success/transient/permanent)
	StrategyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_audio_strategy_attempts_total",
			Help: "Background acquisition attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// AcquisitionFailuresTotal counts background descriptors that every strategy failed on.
	AcquisitionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workout_audio_acquisition_failures_total",
			Help: "Background descriptors dropped after the whole fallback chain failed",
		},
	)

	// CacheLookupsTotal counts background cache lookups.
	// Labels: result (hit/miss)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_audio_cache_lookups_total",
			Help: "Background cache lookups by result",
		},
		[]string{"result"},
	)

	// TTSRequestsTotal counts text-to-speech calls.
	// Labels: provider, outcome (success/error)
	TTSRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_audio_tts_requests_total",
			Help: "Text-to-speech requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// TTSDuration observes text-to-speech latency.
	TTSDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workout_audio_tts_duration_seconds",
			Help:    "Text-to-speech request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// HTTPRequestsTotal counts API requests.
	// Labels: method, route, status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_audio_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordRender records a finished pipeline run.
func RecordRender(outcome string) {
	RendersTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordStrategyAttempt records one acquisition attempt.
func RecordStrategyAttempt(strategy, outcome string) {
	StrategyAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordAcquisitionFailure records a descriptor dropped after all strategies failed.
func RecordAcquisitionFailure() {
	AcquisitionFailuresTotal.Inc()
}

// RecordCacheLookup records a background cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordTTSRequest records one provider call.
func RecordTTSRequest(provider string, success bool, d time.Duration) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	TTSRequestsTotal.WithLabelValues(provider, outcome).Inc()
	TTSDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
