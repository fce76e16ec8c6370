package observability

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunStatus summarizes one pipeline run from the collector's view.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "SUCCESS"
	RunStatusPartialSuccess RunStatus = "PARTIAL_SUCCESS"
)

// Summary is the success-rate rollup of every attempt recorded so far.
type Summary struct {
	SuccessRatePercent  float64
	TotalElapsedSeconds float64
	Status              RunStatus
}

// Metrics stores Prometheus collectors used by the pipeline and the ops
// API. RecordAttempt/Summarize also maintain local counters so the run
// summary never needs to scrape the registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	callAttemptsTotal   *prometheus.CounterVec
	callAttemptDuration *prometheus.HistogramVec
	stageProcessedTotal *prometheus.CounterVec
	stageFailedTotal    *prometheus.CounterVec
	rowsDiscardedTotal  prometheus.Counter
	groupsInFlight      prometheus.Gauge

	mu           sync.Mutex
	attemptsOK   int64
	attemptsFail int64
	totalElapsed time.Duration
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invoice_pipeline",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "invoice_pipeline",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		callAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invoice_pipeline",
				Name:      "automation_call_attempts_total",
				Help:      "Total automation service call attempts by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		callAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "invoice_pipeline",
				Name:      "automation_call_duration_seconds",
				Help:      "Automation call attempt duration in seconds by endpoint.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"endpoint"},
		),
		stageProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invoice_pipeline",
				Name:      "stage_units_processed_total",
				Help:      "Units (files, groups) that completed a stage successfully.",
			},
			[]string{"stage"},
		),
		stageFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "invoice_pipeline",
				Name:      "stage_units_failed_total",
				Help:      "Units (files, groups) that failed a stage.",
			},
			[]string{"stage"},
		),
		rowsDiscardedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "invoice_pipeline",
				Name:      "rows_discarded_total",
				Help:      "Non-billable or invalid rows discarded during extraction.",
			},
		),
		groupsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "invoice_pipeline",
				Name:      "groups_in_flight",
				Help:      "Groups currently being driven through download/upload.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.callAttemptsTotal,
		m.callAttemptDuration,
		m.stageProcessedTotal,
		m.stageFailedTotal,
		m.rowsDiscardedTotal,
		m.groupsInFlight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt counts one automation call attempt.
func (m *Metrics) RecordAttempt(endpoint string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}

	outcome := "failure"
	if success {
		outcome = "success"
	}

	endpointLabel := normalizeLabel(endpoint)
	m.callAttemptsTotal.WithLabelValues(endpointLabel, outcome).Inc()

	seconds := elapsed.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.callAttemptDuration.WithLabelValues(endpointLabel).Observe(seconds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.attemptsOK++
	} else {
		m.attemptsFail++
	}
	if elapsed > 0 {
		m.totalElapsed += elapsed
	}
}

// Summarize rolls up every recorded attempt. Status is SUCCESS only when
// zero failures were observed.
func (m *Metrics) Summarize() Summary {
	if m == nil {
		return Summary{Status: RunStatusSuccess, SuccessRatePercent: 100}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.attemptsOK + m.attemptsFail
	rate := 100.0
	if total > 0 {
		rate = float64(m.attemptsOK) / float64(total) * 100
	}

	status := RunStatusSuccess
	if m.attemptsFail > 0 {
		status = RunStatusPartialSuccess
	}

	return Summary{
		SuccessRatePercent:  rate,
		TotalElapsedSeconds: m.totalElapsed.Seconds(),
		Status:              status,
	}
}

func (m *Metrics) IncStageProcessed(stage string) {
	if m == nil {
		return
	}
	m.stageProcessedTotal.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *Metrics) IncStageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailedTotal.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *Metrics) AddRowsDiscarded(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rowsDiscardedTotal.Add(float64(count))
}

func (m *Metrics) IncGroupsInFlight() {
	if m == nil {
		return
	}
	m.groupsInFlight.Inc()
}

func (m *Metrics) DecGroupsInFlight() {
	if m == nil {
		return
	}
	m.groupsInFlight.Dec()
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
