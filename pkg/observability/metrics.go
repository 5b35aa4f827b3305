package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// InitMetrics creates the meter instruments and installs the result as the
// global metrics recorder. The prometheus exporter registers against the
// default prometheus registry, served by the HTTP layer on /metrics.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("swarm")

	taskDuration, err := meter.Float64Histogram(
		"swarm_task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}

	tasksTotal, err := meter.Int64Counter(
		"swarm_tasks_total",
		metric.WithDescription("Total tasks executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks counter: %w", err)
	}

	taskErrors, err := meter.Int64Counter(
		"swarm_task_errors_total",
		metric.WithDescription("Total task failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task errors counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"swarm_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"swarm_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"swarm_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"swarm_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"swarm_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to backends"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"swarm_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from backends"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"swarm_llm_errors_total",
		metric.WithDescription("Total backend call errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m := NewPrometheusMetrics(
		taskDuration, tasksTotal, taskErrors,
		toolDuration, toolCalls, toolErrors,
		llmDuration, llmInputTokens, llmOutputTokens, llmErrors,
	)
	SetGlobalMetrics(m)
	return m, nil
}
