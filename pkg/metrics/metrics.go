package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records credential checks by flow (login|admin_login) and result
	// (success|failure|forbidden|challenge).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"flow", "result"},
	)

	// CodesIssued counts one-time codes handed to a dispatch channel.
	CodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_otp_issued_total",
			Help: "Total number of one-time codes issued",
		},
		[]string{"purpose", "method", "result"},
	)

	// CodeVerifications counts verification attempts by purpose and result (accepted|rejected|error).
	CodeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_otp_verifications_total",
			Help: "Total number of one-time code verification attempts",
		},
		[]string{"purpose", "result"},
	)

	// ActiveSessions tracks access tokens minted and not yet revoked by this process.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "passgate_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
