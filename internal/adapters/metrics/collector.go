package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const DefaultNamespace = "warmpool"

// Collector records pool and HTTP metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	sessionStarts        *prometheus.CounterVec
	sessionStartDuration *prometheus.HistogramVec
	sessionsLive         prometheus.Gauge
	rotations            *prometheus.CounterVec
	invocations          *prometheus.CounterVec
	invocationAttempts   *prometheus.HistogramVec
	invocationDuration   *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec

	logger *zap.Logger
}

var _ ports.Observer = (*Collector)(nil)

func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		sessionStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Session start attempts by role and result",
		}, []string{"role", "result"}),
		sessionStartDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_start_duration_seconds",
			Help:      "Time from browser launch to validated credential",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"role"}),
		sessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Sessions currently ready in the pool",
		}),
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Active session replacements by pool mode",
		}, []string{"mode"}),
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Guarded capability invocations by label and result",
		}, []string{"label", "result"}),
		invocationAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_attempts",
			Help:      "Attempts spent per guarded invocation",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"label"}),
		invocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Guarded invocation latency including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"label"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SessionStarted(role domain.Role, err error, elapsed time.Duration) {
	c.sessionStarts.WithLabelValues(string(role), resultLabel(err)).Inc()
	if err == nil {
		c.sessionStartDuration.WithLabelValues(string(role)).Observe(elapsed.Seconds())
	}
}

func (c *Collector) SessionsLive(count int) {
	c.sessionsLive.Set(float64(count))
}

func (c *Collector) Rotated(mode domain.PoolMode) {
	c.rotations.WithLabelValues(string(mode)).Inc()
}

func (c *Collector) Invoked(label string, attempts int, err error, elapsed time.Duration) {
	c.invocations.WithLabelValues(label, resultLabel(err)).Inc()
	c.invocationAttempts.WithLabelValues(label).Observe(float64(attempts))
	c.invocationDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (c *Collector) RecordHTTPRequest(method string, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}

	switch {
	case errors.Is(err, domain.ErrLimitReached):
		return "limit"
	case errors.Is(err, domain.ErrLoginTimeout):
		return "login_timeout"
	case errors.Is(err, domain.ErrPoolUnavailable), errors.Is(err, domain.ErrPoolClosed):
		return "unavailable"
	case errors.Is(err, domain.ErrStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, domain.ErrTransportFailure), errors.Is(err, domain.ErrSessionDead):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	if _, ok := domain.AsCapabilityError(err); ok {
		return "capability"
	}
	return "error"
}
