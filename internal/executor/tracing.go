// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/dispatch"
	"github.com/vinayprograms/agentrun/internal/telemetry"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

const maxSpanOutput = 2000

// startRunSpan starts the root span of a run.
func (e *Executor) startRunSpan(ctx context.Context, run *Run) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "run")
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("workspace.name", e.ws.Name),
		attribute.String("workspace.version", e.ws.Version),
	)
	return ctx, span
}

// endRunSpan ends the run span with result info.
func (e *Executor) endRunSpan(span trace.Span, res *Result, err error) {
	span.SetAttributes(
		attribute.String("run.status", string(res.Status)),
		attribute.Int("run.total_tokens", res.TotalTokens),
		attribute.String("run.output", telemetry.Truncate(resultJSON(res.Results), maxSpanOutput)),
	)
	if len(res.Warnings) > 0 {
		span.SetAttributes(attribute.StringSlice("run.warnings", res.Warnings))
	}
	finish(span, err)
}

// startStepSpan starts a span for one step.
func (e *Executor) startStepSpan(ctx context.Context, step *workspace.Step, model string) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "step."+step.ID)
	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.model", model),
		attribute.StringSlice("step.functions", step.Functions),
		attribute.Bool("step.parallel", step.RunFunctionsInParallel),
	)
	return ctx, span
}

// endStepSpan ends the step span.
func (e *Executor) endStepSpan(span trace.Span, status audit.Status, iterations int, err error) {
	span.SetAttributes(
		attribute.String("step.status", string(status)),
		attribute.Int("step.iterations", iterations),
	)
	finish(span, err)
}

// startModelSpan starts a span for one gateway call.
func (e *Executor) startModelSpan(ctx context.Context, model string, iteration, messages, tools int) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "model.call")
	span.SetAttributes(
		attribute.String("model.name", model),
		attribute.Int("model.iteration", iteration),
		attribute.Int("model.messages", messages),
		attribute.Int("model.tools", tools),
	)
	return ctx, span
}

// endModelSpan ends the model span with the assistant output.
func (e *Executor) endModelSpan(span trace.Span, status audit.Status, content string, tokens int, err error) {
	span.SetAttributes(
		attribute.String("model.status", string(status)),
		attribute.Int("model.tokens", tokens),
	)
	if content != "" {
		span.SetAttributes(attribute.String("model.output", telemetry.Truncate(content, maxSpanOutput)))
	}
	finish(span, err)
}

// startFunctionSpan starts a span for one tool call.
func (e *Executor) startFunctionSpan(ctx context.Context, call dispatch.Call) context.Context {
	ctx, span := e.tracer.Start(ctx, "function."+call.Name)
	span.SetAttributes(
		attribute.String("function.name", call.Name),
		attribute.String("function.call_id", call.ID),
	)
	return ctx
}

// endFunctionSpan ends the span carried by ctx.
func (e *Executor) endFunctionSpan(ctx context.Context, status audit.Status, out dispatch.Outcome) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("function.status", string(status)),
		attribute.String("function.output", telemetry.Truncate(out.Content(), maxSpanOutput)),
		attribute.Int64("function.duration_ms", out.Duration.Milliseconds()),
	)
	finish(span, out.Err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
