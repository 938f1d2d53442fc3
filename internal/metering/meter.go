// Package metering accounts completion calls, token usage and tool calls.
package metering

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
)

// Meter is the call-accounting hook. It is purely observational.
type Meter interface {
	// MeterAPICall is invoked once per chat or stream turn before completion.
	MeterAPICall(engine, sessionID string)
	RecordUsage(engine string, usage llm.Usage, cost llm.Cost)
	RecordTool(name string, success bool)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) MeterAPICall(string, string)             {}
func (Noop) RecordUsage(string, llm.Usage, llm.Cost) {}
func (Noop) RecordTool(string, bool)                 {}

// PrometheusMeter exports measurements on its own registry.
type PrometheusMeter struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	apiCalls  *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	costUSD   *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
}

// Ensure PrometheusMeter implements Meter interface.
var _ Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter creates a meter with a fresh registry.
func NewPrometheusMeter(logger *slog.Logger) *PrometheusMeter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusMeter{
		registry: reg,
		logger:   logger,
		apiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kintsugi_api_calls_total",
			Help: "Chat and stream turns started, by completion engine",
		}, []string{"engine"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kintsugi_tokens_total",
			Help: "Tokens consumed by completions",
		}, []string{"engine", "type"}), // type: prompt, completion
		costUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kintsugi_cost_usd_total",
			Help: "Completion cost in USD",
		}, []string{"engine"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kintsugi_tool_calls_total",
			Help: "Tool executions by tool and outcome",
		}, []string{"tool", "status"}),
	}
}

// MeterAPICall counts one turn against engine.
func (m *PrometheusMeter) MeterAPICall(engine, sessionID string) {
	m.apiCalls.WithLabelValues(engine).Inc()
	m.logger.Debug("api call metered", "engine", engine, "session_id", sessionID)
}

// RecordUsage adds token usage and cost.
func (m *PrometheusMeter) RecordUsage(engine string, usage llm.Usage, cost llm.Cost) {
	m.tokens.WithLabelValues(engine, "prompt").Add(float64(usage.PromptTokens))
	m.tokens.WithLabelValues(engine, "completion").Add(float64(usage.CompletionTokens))
	m.costUSD.WithLabelValues(engine).Add(cost.Total)
}

// RecordTool counts one tool execution.
func (m *PrometheusMeter) RecordTool(name string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.toolCalls.WithLabelValues(name, status).Inc()
}

// Registry exposes the underlying registry.
func (m *PrometheusMeter) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMeter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
