package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/dashsync/internal/api"
	"github.com/smart-mcp-proxy/dashsync/internal/reconcile"
	"github.com/smart-mcp-proxy/dashsync/internal/stream"
)

const namespace = "dashsync"

var streamStates = []stream.State{
	stream.StateDisconnected,
	stream.StateConnecting,
	stream.StateConnected,
	stream.StateReconnecting,
	stream.StateError,
	stream.StateFailed,
}

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime prometheus.Gauge

	// REST calls
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	// Push channel
	streamState       *prometheus.GaugeVec
	streamTransitions *prometheus.CounterVec
	streamAttempts    prometheus.Gauge

	// Collections
	loads           *prometheus.CounterVec
	loadDuration    *prometheus.HistogramVec
	pushEvents      *prometheus.CounterVec
	fallbackActive  *prometheus.GaugeVec
	collectionItems *prometheus.GaugeVec

	chartUpdates *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the sync session started",
	})

	mm.apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "REST calls by route, status code and error kind",
		},
		[]string{"method", "route", "status", "kind"},
	)
	mm.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "REST call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	mm.streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Current push channel state (1 for the active state)",
		},
		[]string{"state"},
	)
	mm.streamTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_transitions_total",
			Help:      "Push channel state transitions by target state",
		},
		[]string{"state"},
	)
	mm.streamAttempts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_reconnect_attempts",
		Help:      "Reconnect attempts since the last successful open",
	})

	mm.loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_loads_total",
			Help:      "Collection reloads by result",
		},
		[]string{"collection", "result"},
	)
	mm.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_load_duration_seconds",
			Help:      "Collection reload latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collection"},
	)
	mm.pushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push notifications applied to collections by outcome",
		},
		[]string{"collection", "outcome"},
	)
	mm.fallbackActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_polling_active",
			Help:      "Whether a collection is polling because the push channel is degraded",
		},
		[]string{"collection"},
	)
	mm.collectionItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collection_items",
			Help:      "Number of entities held per collection",
		},
		[]string{"collection"},
	)

	mm.chartUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_updates_total",
			Help:      "Chart updates published by tag",
		},
		[]string{"tag"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.apiRequests,
		mm.apiDuration,
		mm.streamState,
		mm.streamTransitions,
		mm.streamAttempts,
		mm.loads,
		mm.loadDuration,
		mm.pushEvents,
		mm.fallbackActive,
		mm.collectionItems,
		mm.chartUpdates,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the Prometheus metrics HTTP handler
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime updates the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// ObserveRequest implements api.Observer.
func (mm *MetricsManager) ObserveRequest(method, route string, status int, kind api.Kind, duration time.Duration) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	mm.apiRequests.WithLabelValues(method, route, code, kindLabel(kind)).Inc()
	mm.apiDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStreamStatus tracks a push channel status notification.
func (mm *MetricsManager) RecordStreamStatus(st stream.Status) {
	for _, state := range streamStates {
		value := 0.0
		if state == st.State {
			value = 1
		}
		mm.streamState.WithLabelValues(string(state)).Set(value)
	}
	mm.streamTransitions.WithLabelValues(string(st.State)).Inc()
	mm.streamAttempts.Set(float64(st.Attempts))
}

// ObserveLoad implements reconcile.Observer.
func (mm *MetricsManager) ObserveLoad(collection string, err error, d time.Duration) {
	result := StatusSuccess
	if err != nil {
		result = StatusError
	}
	mm.loads.WithLabelValues(collection, result).Inc()
	mm.loadDuration.WithLabelValues(collection).Observe(d.Seconds())
}

// ObservePush implements reconcile.Observer.
func (mm *MetricsManager) ObservePush(collection string, outcome reconcile.Outcome) {
	mm.pushEvents.WithLabelValues(collection, string(outcome)).Inc()
}

// ObserveFallback implements reconcile.Observer.
func (mm *MetricsManager) ObserveFallback(collection string, active bool) {
	value := 0.0
	if active {
		value = 1
	}
	mm.fallbackActive.WithLabelValues(collection).Set(value)
}

// SetCollectionSize records how many entities a collection holds.
func (mm *MetricsManager) SetCollectionSize(collection string, size int) {
	mm.collectionItems.WithLabelValues(collection).Set(float64(size))
}

// RecordChartUpdate counts a published chart message.
func (mm *MetricsManager) RecordChartUpdate(tag string) {
	mm.chartUpdates.WithLabelValues(tag).Inc()
}

func kindLabel(kind api.Kind) string {
	if kind == "" {
		return "ok"
	}
	return string(kind)
}
