// Audit recording for the executor.
package executor

import (
	"context"
	"time"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/dispatch"
	"github.com/vinayprograms/agentrun/internal/faults"
)

// create stores rec and returns its id, or "" when the store rejects it.
// Audit writes outlive cancellation so aborted runs still seal their records.
func (e *Executor) create(ctx context.Context, rec audit.Record) string {
	id, err := e.store.Create(context.WithoutCancel(ctx), rec)
	if err != nil {
		e.logger.Error("audit_create_failed", map[string]interface{}{
			"kind":  string(rec.Kind),
			"name":  rec.Name,
			"error": err.Error(),
		})
		return ""
	}
	return id
}

// seal closes the record with id. Records that failed to create are skipped.
func (e *Executor) seal(ctx context.Context, id string, seal audit.Seal) {
	if id == "" {
		return
	}
	if seal.EndedAt.IsZero() {
		seal.EndedAt = time.Now()
	}
	if err := e.store.Seal(context.WithoutCancel(ctx), id, seal); err != nil {
		e.logger.Error("audit_seal_failed", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}
}

// statusFor maps a step or run error to its terminal status.
func statusFor(err error) audit.Status {
	switch {
	case err == nil:
		return audit.StatusCompleted
	case faults.IsCancelled(err):
		return audit.StatusCancelled
	default:
		return audit.StatusFailed
	}
}

type scopeKey struct{}

// scope identifies the step a tool call belongs to.
type scope struct {
	runID      string
	stepRecord string
	step       string
	run        *Run
}

func withScope(ctx context.Context, s scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

type callKey struct{}

// callState travels from CallStarted to CallFinished through the context.
type callState struct {
	recordID string
	start    time.Time
}

// callObserver records a function-call audit record and span per call.
type callObserver struct {
	e *Executor
}

func (o *callObserver) CallStarted(ctx context.Context, call dispatch.Call) context.Context {
	e := o.e
	sc := scopeFrom(ctx)
	start := time.Now()

	ctx = e.startFunctionSpan(ctx, call)
	id := e.create(ctx, audit.Record{
		Kind:      audit.KindFunctionCall,
		ParentID:  sc.stepRecord,
		RunID:     sc.runID,
		Name:      call.Name,
		StartedAt: start,
		Input: map[string]interface{}{
			"call_id":   call.ID,
			"arguments": call.Arguments,
		},
	})
	e.logger.WithSpan(ctx).ToolCall(call.Name)
	return context.WithValue(ctx, callKey{}, callState{recordID: id, start: start})
}

func (o *callObserver) CallFinished(ctx context.Context, call dispatch.Call, out dispatch.Outcome) {
	e := o.e
	st, _ := ctx.Value(callKey{}).(callState)

	seal := audit.Seal{Status: audit.StatusCompleted, Output: out.Result()}
	if out.Failed() {
		seal.Status = audit.StatusFailed
		seal.Error = out.ErrorMessage()
	}
	e.seal(ctx, st.recordID, seal)
	e.endFunctionSpan(ctx, seal.Status, out)
	e.logger.WithSpan(ctx).ToolResult(call.Name, out.Duration, out.ErrorMessage())

	if e.OnToolCall != nil {
		e.OnToolCall(scopeFrom(ctx).runID, call.Name, out.Result(), out.Failed())
	}
}
