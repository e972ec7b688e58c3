package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flavorfleet"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "connections",
			Help:      "Open live push connections.",
		},
	)

	liveCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "closed_total",
			Help:      "Live connections closed, by reason.",
		},
		[]string{"reason"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Channel delivery attempts by channel and result.",
		},
		[]string{"channel", "result"},
	)

	campaignsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "campaigns_dispatched_total",
			Help:      "Campaign dispatch attempts by result.",
		},
		[]string{"result"},
	)

	schedulerRuns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled dispatch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	otpIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "otp",
			Name:      "issued_total",
			Help:      "One-time codes issued by purpose.",
		},
		[]string{"purpose"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		liveConnections,
		liveCloses,
		deliveries,
		campaignsDispatched,
		schedulerRuns,
		otpIssued,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func LiveConnectionOpened() { liveConnections.Inc() }

func LiveConnectionClosed(reason string) {
	liveConnections.Dec()
	liveCloses.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one push or email attempt.
func RecordDelivery(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	deliveries.WithLabelValues(channel, result).Inc()
}

// RecordDispatch counts a campaign dispatch with result "sent", "skipped" or "failed".
func RecordDispatch(result string) {
	campaignsDispatched.WithLabelValues(result).Inc()
}

func ObserveSchedulerRun(d time.Duration) {
	schedulerRuns.Observe(d.Seconds())
}

func RecordOTPIssued(purpose string) {
	otpIssued.WithLabelValues(purpose).Inc()
}
