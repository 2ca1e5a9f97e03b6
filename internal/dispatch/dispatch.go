// Package dispatch executes batches of model-requested tool calls.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/functions"
)

// Policy selects how a batch is executed.
type Policy int

const (
	Sequential Policy = iota
	Parallel
)

func (p Policy) String() string {
	if p == Parallel {
		return "parallel"
	}
	return "sequential"
}

// PolicyFor maps a step's parallel flag to a Policy.
func PolicyFor(parallel bool) Policy {
	if parallel {
		return Parallel
	}
	return Sequential
}

// DefaultLimit is the parallel fan-out bound used when none is configured.
// Tool calls are mostly I/O bound, so CPUs are oversubscribed 4x, clamped to [4, 32].
var DefaultLimit = func() int {
	limit := runtime.NumCPU() * 4
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}()

// Call is one requested invocation. Arguments is the raw JSON object.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Outcome is the normalized result of a Call.
type Outcome struct {
	ID       string
	Name     string
	Args     map[string]interface{}
	Value    interface{}
	Err      error // *faults.ToolExecutionError when set
	Duration time.Duration
}

// Failed reports whether the call ended in a contained runtime error.
func (o Outcome) Failed() bool { return o.Err != nil }

// ErrorMessage returns the underlying failure text without the function prefix.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	var te *faults.ToolExecutionError
	if errors.As(o.Err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return o.Err.Error()
}

// Result is the value recorded for the call: the success value, or
// {"error": message} on failure.
func (o Outcome) Result() interface{} {
	if o.Err != nil {
		return map[string]interface{}{"error": o.ErrorMessage()}
	}
	return o.Value
}

// Content is the tool message body: strings pass through, everything else
// is JSON encoded.
func (o Outcome) Content() string {
	v := o.Result()
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Resolver looks up implementations by name.
type Resolver interface {
	Resolve(name string) (functions.Func, bool)
}

// Observer is notified around every executed call. Implementations must be
// safe for concurrent use. CallStarted may return a derived context (for
// example one carrying a span) that is used for the call and CallFinished.
type Observer interface {
	CallStarted(ctx context.Context, call Call) context.Context
	CallFinished(ctx context.Context, call Call, out Outcome)
}

// Dispatcher executes tool-call batches against a Resolver.
type Dispatcher struct {
	resolver Resolver
	limit    int
	observer Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLimit bounds the number of simultaneously running parallel calls.
// Values <= 0 select DefaultLimit.
func WithLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithObserver installs a call observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a dispatcher.
func New(resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{resolver: resolver, limit: DefaultLimit}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes calls under policy and returns outcomes in request order.
//
// Every call is resolved before any executes; an unknown name is a
// ConfigurationError and nothing runs. Runtime failures inside an
// implementation are contained in the Outcome. A cancelled ctx yields a
// CancellationRequested error together with the outcomes of the calls that
// finished, still in request order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call, policy Policy) ([]Outcome, error) {
	fns := make([]functions.Func, len(calls))
	for i, c := range calls {
		fn, ok := d.resolver.Resolve(c.Name)
		if !ok {
			return nil, faults.Configf("function %q is not available", c.Name)
		}
		fns[i] = fn
	}

	outcomes := make([]Outcome, len(calls))
	done := make([]bool, len(calls))

	var err error
	if policy == Sequential {
		for i, c := range calls {
			if cerr := ctx.Err(); cerr != nil {
				err = faults.Cancelled("function "+c.Name, cerr)
				break
			}
			outcomes[i] = d.run(ctx, fns[i], c)
			done[i] = true
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.limit)
		for i, c := range calls {
			g.Go(func() error {
				if cerr := ctx.Err(); cerr != nil {
					return faults.Cancelled("function "+c.Name, cerr)
				}
				outcomes[i] = d.run(ctx, fns[i], c)
				done[i] = true
				return nil
			})
		}
		err = g.Wait()
	}

	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = faults.Cancelled("tool dispatch", cerr)
		}
	}
	if err != nil {
		finished := make([]Outcome, 0, len(calls))
		for i, ok := range done {
			if ok {
				finished = append(finished, outcomes[i])
			}
		}
		return finished, err
	}
	return outcomes, nil
}

// run executes one resolved call with observer notifications.
func (d *Dispatcher) run(ctx context.Context, fn functions.Func, c Call) Outcome {
	callCtx := ctx
	if d.observer != nil {
		callCtx = d.observer.CallStarted(ctx, c)
	}
	out := invoke(callCtx, fn, c)
	if d.observer != nil {
		d.observer.CallFinished(callCtx, c, out)
	}
	return out
}

// invoke decodes arguments and calls fn, converting errors and panics into
// a contained ToolExecutionError.
func invoke(ctx context.Context, fn functions.Func, c Call) (out Outcome) {
	start := time.Now()
	out = Outcome{ID: c.ID, Name: c.Name}
	defer func() {
		if r := recover(); r != nil {
			out.Value = nil
			out.Err = &faults.ToolExecutionError{Function: c.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		out.Duration = time.Since(start)
	}()

	args, err := decodeArgs(c.Arguments)
	if err != nil {
		out.Err = &faults.ToolExecutionError{Function: c.Name, Err: err}
		return out
	}
	out.Args = args

	value, err := fn(ctx, args)
	if err != nil {
		out.Err = &faults.ToolExecutionError{Function: c.Name, Err: err}
		return out
	}
	out.Value = value
	return out
}

func decodeArgs(raw string) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = make(map[string]interface{})
	}
	return args, nil
}
