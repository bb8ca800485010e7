package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Trigger metrics
	TriggerExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_trigger_executions_total",
			Help: "Total trigger executions by kind and status",
		},
		[]string{"kind", "status"},
	)

	TriggerExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_trigger_execution_duration_seconds",
			Help:    "Trigger execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TriggersAutoDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_triggers_auto_disabled_total",
			Help: "Triggers disabled after hitting their failure threshold",
		},
	)

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_requests_total",
			Help: "Inbound webhook requests by outcome",
		},
		[]string{"outcome"},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_workflows_started_total",
			Help: "Total agent workflows started",
		},
		[]string{"source"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_workflows_completed_total",
			Help: "Total agent workflows completed by status",
		},
		[]string{"status"},
	)

	WorkflowIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_workflow_iterations",
			Help:    "Reasoning iterations used per workflow",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)

	WorkflowCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_workflow_cost_usd",
			Help:    "Cost in USD per workflow",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Domain events published by type",
		},
		[]string{"event_type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_stream_subscribers",
			Help: "Currently connected event stream subscribers",
		},
	)

	// Schedule reconciler metrics
	ScheduleReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_schedule_reconciliations_total",
			Help: "Reconciler actions by kind (created, orphan_removed, noop)",
		},
		[]string{"action"},
	)

	// Outbound dependency metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Circuit breaker state per downstream (0 closed, 1 half-open, 2 open)",
		},
		[]string{"service"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration by route and code",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "code"},
	)
)
