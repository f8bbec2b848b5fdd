package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "traderchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	// Conversation metrics
	SendCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderchat_send_cycles_total",
			Help: "Completed send cycles by outcome",
		},
		[]string{"outcome"}, // "ok", "unacknowledged" or an error kind
	)

	PriceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderchat_price_fetches_total",
			Help: "Ticker API lookups",
		},
		[]string{"result"}, // "ok", "error", "cache"
	)

	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderchat_verifications_total",
			Help: "Broker response verifications",
		},
		[]string{"result"}, // "verified", "rejected"
	)

	FundingTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traderchat_funding_transfers_total",
			Help: "Ledger transfers into provider sub-accounts",
		},
		[]string{"reason", "result"}, // reason: "create", "top_up"
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "traderchat_inference_latency_seconds",
			Help:    "Latency of chat completion requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "traderchat_active_sessions",
			Help: "Conversation sessions held in memory",
		},
	)
)
