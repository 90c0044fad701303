package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters and histograms for the agent core.
//
// Tracked signals:
//   - model request latency, outcomes, and retries
//   - turn counts per request
//   - tool execution counts and latencies
//   - permission engine decisions
type Metrics struct {
	// ModelRequestDuration measures model round-trip latency in seconds.
	// Labels: model, mode (generate|stream)
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: model, mode, status (success|error|aborted)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRetryCounter counts transport retries.
	// Labels: reason (http_status|request_timeout|stream_idle_timeout|io)
	ModelRetryCounter *prometheus.CounterVec

	// TurnCounter counts completed agent turns.
	// Labels: outcome (final|tool_use|interrupted|error)
	TurnCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|denied|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// PermissionDecisionCounter counts permission engine outcomes.
	// Labels: tool, decision (granted|denied|asked)
	PermissionDecisionCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption reported by the model.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer for the process-wide registry, or a
// fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magpie_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model", "mode"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_model_requests_total",
				Help: "Total number of model requests by model, mode, and status",
			},
			[]string{"model", "mode", "status"},
		),
		ModelRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_model_retries_total",
				Help: "Total number of transport retries by reason",
			},
			[]string{"reason"},
		),
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_turns_total",
				Help: "Total number of agent turns by outcome",
			},
			[]string{"outcome"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_tool_executions_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magpie_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		PermissionDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_permission_decisions_total",
				Help: "Total number of permission engine decisions by tool and outcome",
			},
			[]string{"tool", "decision"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magpie_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),
	}
}
