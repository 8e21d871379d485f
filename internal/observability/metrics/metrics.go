package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics collects the settlement engine's operational counters.
type Metrics struct {
	ProcessesCreated prometheus.Counter
	Callbacks        *prometheus.CounterVec
	Cascades         prometheus.Counter
	LeafFanout       prometheus.Counter
	HTTPDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcessesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasepay_payout_processes_created_total",
			Help: "Bank batches assembled and staged for submission.",
		}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leasepay_settlement_callbacks_total",
			Help: "Bank callbacks processed, by result.",
		}, []string{"result"}),
		Cascades: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasepay_settlement_cascades_total",
			Help: "Status changes cascaded from batch to partner payout.",
		}),
		LeafFanout: factory.NewCounter(prometheus.CounterOpts{
			Name: "leasepay_settlement_leaf_updates_total",
			Help: "Leaf records flipped to a terminal status by fan-out.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leasepay_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// RecordCallback counts one processed callback with its result
// (applied, noop, error).
func (m *Metrics) RecordCallback(result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(result).Inc()
}

func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

var Module = fx.Module("observability.metrics",
	fx.Provide(func() *Metrics {
		return New(prometheus.DefaultRegisterer)
	}),
)
