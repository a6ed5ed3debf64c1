// Package metrics provides Prometheus instrumentation for the BidBox server.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidbox",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bidbox",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MessagesTotal counts message lifecycle transitions by resulting status.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidbox",
			Name:      "messages_total",
			Help:      "Total message state transitions by resulting status.",
		},
		[]string{"status"},
	)

	// SettlementsTotal counts on-chain settlement attempts by result.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidbox",
			Name:      "settlements_total",
			Help:      "Total on-chain settlement attempts by result.",
		},
		[]string{"result"},
	)

	// PaymentChallengesTotal counts 402 challenges issued to senders.
	PaymentChallengesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bidbox",
		Name:      "payment_challenges_total",
		Help:      "Total 402 payment challenges issued.",
	})

	// AuthorizationRejectionsTotal counts rejected payment authorizations by reason.
	AuthorizationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidbox",
			Name:      "authorization_rejections_total",
			Help:      "Total rejected payment authorizations by reason.",
		},
		[]string{"reason"},
	)

	// ExpirySweepsTotal counts sweeper runs.
	ExpirySweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bidbox",
		Name:      "expiry_sweeps_total",
		Help:      "Total expiry sweeper runs.",
	})

	// MessagesExpiredTotal counts messages resolved by the expiry sweeper.
	MessagesExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bidbox",
		Name:      "messages_expired_total",
		Help:      "Total messages expired by the sweeper.",
	})

	// ReputationRecomputesTotal counts snapshot recomputations.
	ReputationRecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bidbox",
		Name:      "reputation_recomputes_total",
		Help:      "Total reputation snapshot recomputations.",
	})

	// EscrowHoldDuration observes time from escrow creation to resolution.
	EscrowHoldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bidbox",
		Name:      "escrow_hold_duration_seconds",
		Help:      "Time from escrow creation to resolution in seconds.",
		Buckets:   []float64{60, 300, 1800, 3600, 14400, 43200, 86400, 259200, 604800},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bidbox", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MessagesTotal,
		SettlementsTotal,
		PaymentChallengesTotal,
		AuthorizationRejectionsTotal,
		ExpirySweepsTotal,
		MessagesExpiredTotal,
		ReputationRecomputesTotal,
		EscrowHoldDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
