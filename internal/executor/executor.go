// Package executor drives runs of a workspace: the step loop, the bounded
// model/tool loop inside each step, and the audit and trace records around
// them.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/conversation"
	"github.com/vinayprograms/agentrun/internal/dispatch"
	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/llm"
	"github.com/vinayprograms/agentrun/internal/logging"
	"github.com/vinayprograms/agentrun/internal/telemetry"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

// DefaultMaxIterations bounds the model/tool loop of a step.
const DefaultMaxIterations = 5

// Status is the run lifecycle state.
type Status = audit.Status

const (
	StatusQueued    = audit.StatusQueued
	StatusRunning   = audit.StatusRunning
	StatusCompleted = audit.StatusCompleted
	StatusFailed    = audit.StatusFailed
	StatusCancelled = audit.StatusCancelled
)

// Result is what the caller of a run always receives.
type Result struct {
	RunID       string                 `json:"run_id"`
	Workspace   string                 `json:"workspace"`
	Status      Status                 `json:"status"`
	Results     map[string]interface{} `json:"results"`
	Warnings    []string               `json:"warnings,omitempty"`
	TotalTokens int                    `json:"total_tokens"`
	Iterations  map[string]int         `json:"iterations,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// Run is one execution of a workspace. It owns its conversation and
// results and is never shared between executions. Snapshot is safe to call
// from other goroutines while the run executes.
type Run struct {
	ID     string
	Inputs map[string]string

	mu          sync.Mutex
	status      Status
	results     map[string]interface{}
	warnings    []string
	tokens      int
	iterations  map[string]int
	errText     string
	startedAt   time.Time
	duration    time.Duration
	cursor      string
	carry       bool
	executed    bool
	conv        *conversation.State
	stepHistory []string
}

// NewRun creates a queued run with a fresh id.
func NewRun(inputs map[string]string) *Run {
	if inputs == nil {
		inputs = make(map[string]string)
	}
	return &Run{
		ID:         audit.NewID(),
		Inputs:     inputs,
		status:     StatusQueued,
		results:    make(map[string]interface{}),
		iterations: make(map[string]int),
		conv:       conversation.New(nil),
	}
}

// Status returns the current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Messages returns a copy of the current conversation.
func (r *Run) Messages() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv.Messages()
}

// Steps returns the ids of the steps entered so far, in order.
func (r *Run) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stepHistory...)
}

// Snapshot returns the current state as a Result.
func (r *Run) Snapshot() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &Result{
		RunID:       r.ID,
		Status:      r.status,
		Results:     make(map[string]interface{}, len(r.results)),
		Warnings:    append([]string(nil), r.warnings...),
		TotalTokens: r.tokens,
		Iterations:  make(map[string]int, len(r.iterations)),
		Error:       r.errText,
		StartedAt:   r.startedAt,
		Duration:    r.duration,
	}
	for k, v := range r.results {
		res.Results[k] = v
	}
	for k, v := range r.iterations {
		res.Iterations[k] = v
	}
	if res.Duration == 0 && !r.startedAt.IsZero() && !r.status.Terminal() {
		res.Duration = time.Since(r.startedAt)
	}
	return res
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Run) setResult(name string, value interface{}) {
	r.mu.Lock()
	r.results[name] = value
	r.mu.Unlock()
}

func (r *Run) addTokens(n int) {
	r.mu.Lock()
	r.tokens += n
	r.mu.Unlock()
}

func (r *Run) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

func (r *Run) append(msg llm.Message) {
	r.mu.Lock()
	r.conv.Append(msg)
	r.mu.Unlock()
}

func (r *Run) resetConversation(msgs []llm.Message) {
	r.mu.Lock()
	r.conv.Reset(msgs)
	r.mu.Unlock()
}

// Executor runs a workspace. The workspace and registry are read-only and
// one Executor may drive any number of concurrent runs.
type Executor struct {
	ws         *workspace.Workspace
	gateway    llm.Gateway
	registry   *functions.Registry
	store      audit.Store
	tracer     trace.Tracer
	logger     *logging.Logger

	maxIterations   int
	toolConcurrency int
	defaultModel    string

	preflightOnce sync.Once
	preflightErr  error

	// Callbacks
	OnStepStart    func(runID, step string)
	OnStepComplete func(runID, step string, status Status)
	OnToolCall     func(runID, name string, result interface{}, failed bool)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxIterations sets the per-step model/tool loop cap.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithToolConcurrency bounds parallel tool dispatch; 0 keeps the default.
func WithToolConcurrency(n int) Option {
	return func(e *Executor) { e.toolConcurrency = n }
}

// WithDefaultModel sets the model for steps that name none.
func WithDefaultModel(model string) Option {
	return func(e *Executor) {
		if model != "" {
			e.defaultModel = model
		}
	}
}

// WithStore sets the audit store.
func WithStore(s audit.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l.WithComponent("runner") }
}

// New creates an executor for ws. Function bindings are checked before the
// first run starts.
func New(ws *workspace.Workspace, gateway llm.Gateway, registry *functions.Registry, opts ...Option) *Executor {
	e := &Executor{
		ws:            ws,
		gateway:       gateway,
		registry:      registry,
		logger:        logging.New().WithComponent("runner"),
		maxIterations: DefaultMaxIterations,
		defaultModel:  workspace.DefaultModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = functions.NewRegistry()
	}
	if e.store == nil {
		e.store = audit.NewMemoryStore()
	}
	if e.tracer == nil {
		e.tracer = telemetry.GetTracer()
	}
	return e
}

// Workspace returns the executed workspace.
func (e *Executor) Workspace() *workspace.Workspace { return e.ws }

// Store returns the audit store.
func (e *Executor) Store() audit.Store { return e.store }

// PreFlight validates the step graph and binds every catalog function to
// the registry.
func (e *Executor) PreFlight() error {
	e.preflightOnce.Do(func() {
		if err := workspace.Validate(e.ws); err != nil {
			e.preflightErr = err
			return
		}
		e.preflightErr = workspace.Bind(e.ws, e.registry)
	})
	return e.preflightErr
}

// Run executes a new run with inputs.
func (e *Executor) Run(ctx context.Context, inputs map[string]string) (*Result, error) {
	return e.Execute(ctx, NewRun(inputs))
}

// Execute drives run to a terminal state. The returned Result is never nil;
// the error is the cause of a failed or cancelled run.
func (e *Executor) Execute(ctx context.Context, run *Run) (*Result, error) {
	run.mu.Lock()
	if run.executed {
		run.mu.Unlock()
		return run.Snapshot(), faults.Configf("run %s has already been executed", run.ID)
	}
	run.executed = true
	run.startedAt = time.Now()
	run.status = StatusRunning
	run.mu.Unlock()

	start := run.startedAt
	name := e.ws.Name
	e.logger.RunStart(run.ID, name)

	ctx, span := e.startRunSpan(ctx, run)
	e.create(ctx, audit.Record{
		ID:        run.ID,
		Kind:      audit.KindRun,
		RunID:     run.ID,
		Name:      name,
		StartedAt: start,
		Input: map[string]interface{}{
			"workspace": name,
			"version":   e.ws.Version,
			"inputs":    run.Inputs,
		},
	})
	err := e.PreFlight()
	if err == nil {
		run.cursor = e.ws.FirstStep()
		err = e.stepLoop(ctx, run)
	}

	status := statusFor(err)
	run.mu.Lock()
	run.status = status
	run.duration = time.Since(start)
	if err != nil {
		run.errText = err.Error()
	}
	run.mu.Unlock()

	res := run.Snapshot()
	res.Workspace = name

	e.seal(ctx, run.ID, audit.Seal{
		Status: status,
		Output: map[string]interface{}{
			"results":  res.Results,
			"warnings": res.Warnings,
		},
		Error:  res.Error,
		Tokens: res.TotalTokens,
	})
	e.endRunSpan(span, res, err)
	e.logger.RunComplete(run.ID, res.Duration, string(status), res.TotalTokens)
	return res, err
}

// stepLoop follows nextStep pointers until the terminal sentinel. A
// validated graph is acyclic, so each step is visited at most once.
func (e *Executor) stepLoop(ctx context.Context, run *Run) error {
	visited := make(map[string]bool)
	for !e.ws.IsTerminal(run.cursor) {
		if err := ctx.Err(); err != nil {
			return faults.Cancelled("step "+run.cursor, err)
		}
		step, ok := e.ws.ResolveStep(run.cursor)
		if !ok {
			return faults.Configf("step %q does not exist", run.cursor)
		}
		if visited[step.ID] {
			return faults.Configf("step %q revisited; the step graph has a cycle", step.ID)
		}
		visited[step.ID] = true

		if err := e.executeStep(ctx, run, step); err != nil {
			return err
		}
		run.cursor = step.NextStep
	}
	return nil
}

// executeStep builds the step's initial messages and tool catalog, runs the
// model/tool loop, and seals the step record.
func (e *Executor) executeStep(ctx context.Context, run *Run, step *workspace.Step) error {
	start := time.Now()
	model := step.ModelFor(e.defaultModel)

	run.mu.Lock()
	run.stepHistory = append(run.stepHistory, step.ID)
	carry := run.carry
	run.mu.Unlock()

	e.logger.StepStart(step.ID, model)
	if e.OnStepStart != nil {
		e.OnStepStart(run.ID, step.ID)
	}

	ctx, span := e.startStepSpan(ctx, step, model)
	recID := e.create(ctx, audit.Record{
		Kind:      audit.KindStep,
		ParentID:  run.ID,
		RunID:     run.ID,
		Name:      step.ID,
		StartedAt: start,
		Input: map[string]interface{}{
			"model":             model,
			"functions":         step.Functions,
			"parallel":          step.RunFunctionsInParallel,
			"carried_over":      carry,
			"pass_conversation": step.PassConversationToNextStep,
		},
	})

	if carry {
		run.resetConversation(run.conv.SnapshotForNextStep(true))
	} else {
		run.resetConversation(interpolateMessages(step.Chat, run.Inputs, e.logger))
	}
	tools := e.ws.Tools(step)

	ctx = withScope(ctx, scope{runID: run.ID, stepRecord: recID, step: step.ID, run: run})
	iterations, err := e.modelToolLoop(ctx, run, step, model, tools)

	run.mu.Lock()
	run.iterations[step.ID] = iterations
	run.carry = step.PassConversationToNextStep
	run.mu.Unlock()

	status := statusFor(err)
	seal := audit.Seal{
		Status: status,
		Output: map[string]interface{}{
			"iterations": iterations,
			"messages":   run.Messages(),
		},
	}
	if err != nil {
		seal.Error = err.Error()
	}
	e.seal(ctx, recID, seal)
	e.endStepSpan(span, status, iterations, err)
	e.logger.StepComplete(step.ID, time.Since(start), string(status))
	if e.OnStepComplete != nil {
		e.OnStepComplete(run.ID, step.ID, status)
	}
	return err
}

// modelToolLoop alternates gateway calls and tool dispatch until the model
// stops requesting tools or the iteration cap is reached. Hitting the cap
// with calls pending completes the step with a warning.
func (e *Executor) modelToolLoop(ctx context.Context, run *Run, step *workspace.Step, model string, tools []llm.ToolDef) (int, error) {
	policy := dispatch.PolicyFor(step.RunFunctionsInParallel)
	dispatcher := dispatch.New(stepCatalog{ws: e.ws, step: step, registry: e.registry},
		dispatch.WithLimit(e.toolConcurrency),
		dispatch.WithObserver(&callObserver{e: e}),
	)
	pending := false
	iterations := 0
	for iterations < e.maxIterations {
		if err := ctx.Err(); err != nil {
			return iterations, faults.Cancelled("model call in step "+step.ID, err)
		}
		iterations++

		resp, err := e.callModel(ctx, run, step, model, tools, iterations)
		if err != nil {
			return iterations, err
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		run.append(msg)

		if len(msg.ToolCalls) == 0 {
			pending = false
			break
		}
		pending = true

		calls := make([]dispatch.Call, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			calls[i] = dispatch.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		outcomes, err := dispatcher.Dispatch(ctx, calls, policy)
		for _, out := range outcomes {
			run.append(llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: out.ID,
				Name:       out.Name,
				Content:    out.Content(),
			})
			run.setResult(out.Name, out.Result())
		}
		if err != nil {
			return iterations, err
		}
	}

	if pending {
		limit := &faults.IterationLimitExceeded{Step: step.ID, Limit: e.maxIterations}
		run.warn(limit.Error())
		e.logger.IterationLimit(step.ID, e.maxIterations)
	}
	return iterations, nil
}

// callModel performs one gateway exchange and records it as a chat record.
func (e *Executor) callModel(ctx context.Context, run *Run, step *workspace.Step, model string, tools []llm.ToolDef, iteration int) (*llm.Response, error) {
	start := time.Now()
	messages := run.Messages()
	sc := scopeFrom(ctx)

	ctx, span := e.startModelSpan(ctx, model, iteration, len(messages), len(tools))
	chatID := e.create(ctx, audit.Record{
		Kind:      audit.KindChat,
		ParentID:  sc.stepRecord,
		RunID:     run.ID,
		Name:      model,
		StartedAt: start,
		Input: map[string]interface{}{
			"iteration":        iteration,
			"messages":         messages,
			"tools":            toolNames(tools),
			"estimated_tokens": conversation.EstimateTokens(messages),
		},
	})

	resp, err := e.gateway.Call(ctx, model, messages, tools)
	if err == nil && resp == nil {
		err = &faults.GatewayError{Model: model, Err: errors.New("gateway returned no response")}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = faults.Cancelled("model call in step "+step.ID, ctxErr)
		} else if !faults.IsGateway(err) {
			err = &faults.GatewayError{Model: model, Err: err}
		}
		e.seal(ctx, chatID, audit.Seal{Status: statusFor(err), Error: err.Error()})
		e.endModelSpan(span, statusFor(err), "", 0, err)
		return nil, err
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	run.addTokens(tokens)

	e.seal(ctx, chatID, audit.Seal{
		Status: StatusCompleted,
		Output: map[string]interface{}{
			"content":    resp.Message.Content,
			"tool_calls": resp.Message.ToolCalls,
			"usage":      resp.Usage,
		},
		Tokens: tokens,
	})
	e.endModelSpan(span, StatusCompleted, resp.Message.Content, tokens, nil)
	e.logger.WithSpan(ctx).ModelCall(step.ID, model, iteration, tokens, len(resp.Message.ToolCalls), time.Since(start))
	return resp, nil
}

func toolNames(tools []llm.ToolDef) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// resultJSON renders a result payload for span attributes.
func resultJSON(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
