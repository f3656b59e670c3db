// Package metrics registers the pipeline's OpenTelemetry instruments,
// adapted from the teacher's resilience/metrics_otel.go collector shape but
// targeting the domain counters implied by
// original_source/shared/observability/metrics.py: llm_tokens,
// agent_execution_time, tasks_completed, qa_retries.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the process's metric instruments. Metrics registration is
// explicitly ambient per spec.md §1's out-of-scope list, so Registry is a
// thin wrapper with safe zero-value behavior (a nil *Registry's methods are
// no-ops) rather than a load-bearing component.
type Registry struct {
	meter              metric.Meter
	llmTokens          metric.Int64Counter
	agentExecutionTime metric.Float64Histogram
	tasksCompleted     metric.Int64Counter
	qaRetries          metric.Int64Counter
}

func New(serviceName string) *Registry {
	meter := otel.Meter(serviceName)

	llmTokens, _ := meter.Int64Counter("pipeline.llm_tokens", metric.WithDescription("LLM prompt/completion tokens consumed"))
	execTime, _ := meter.Float64Histogram("pipeline.agent_execution_time", metric.WithDescription("Seconds spent per agent invocation"), metric.WithUnit("s"))
	tasksCompleted, _ := meter.Int64Counter("pipeline.tasks_completed", metric.WithDescription("Pipeline stage completions, labelled by status (completed, qa_passed, security_approved, pr_created)"))
	qaRetries, _ := meter.Int64Counter("pipeline.qa_retries", metric.WithDescription("QA retry dispatches"))

	return &Registry{
		meter:              meter,
		llmTokens:          llmTokens,
		agentExecutionTime: execTime,
		tasksCompleted:     tasksCompleted,
		qaRetries:          qaRetries,
	}
}

func (r *Registry) RecordTokens(ctx context.Context, service, direction string, count int) {
	if r == nil || r.llmTokens == nil || count == 0 {
		return
	}
	r.llmTokens.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("direction", direction),
	))
}

func (r *Registry) RecordExecutionTime(ctx context.Context, service string, seconds float64) {
	if r == nil || r.agentExecutionTime == nil {
		return
	}
	r.agentExecutionTime.Record(ctx, seconds, metric.WithAttributes(attribute.String("service", service)))
}

func (r *Registry) RecordTaskCompleted(ctx context.Context, status string) {
	if r == nil || r.tasksCompleted == nil {
		return
	}
	r.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *Registry) RecordQARetry(ctx context.Context) {
	if r == nil || r.qaRetries == nil {
		return
	}
	r.qaRetries.Add(ctx, 1)
}
