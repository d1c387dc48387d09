// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_tool_executions_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsdesk_tool_duration_seconds",
			Help:    "Wall-clock duration of tool invocations including validation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_model_calls_total",
			Help: "Language model calls by pass (initial, followup) and outcome",
		},
		[]string{"pass", "status"},
	)

	ErrorsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_errors_total",
			Help: "Structured errors created by type and severity",
		},
		[]string{"type", "severity"},
	)

	DedupShared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_dedup_shared_total",
			Help: "Calls that received a result shared with a concurrent identical call",
		},
		[]string{"scope"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_backend_requests_total",
			Help: "Control-plane REST requests by method and status class",
		},
		[]string{"method", "status"},
	)

	Conversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsdesk_conversations",
			Help: "Conversations currently held by the conversation store",
		},
	)
)
