package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/llm"
	"github.com/vinayprograms/agentrun/internal/logging"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

func chat(system, user string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// build assembles a workspace from steps chained in the given order.
func build(steps []*workspace.Step, fns ...*workspace.Function) *workspace.Workspace {
	ws := &workspace.Workspace{
		Name:      "Text Agent",
		Version:   "v1",
		Steps:     make(map[string]*workspace.Step),
		Functions: make(map[string]*workspace.Function),
	}
	for i, s := range steps {
		if i == 0 {
			ws.First = s.ID
		}
		if s.NextStep == "" {
			if i+1 < len(steps) {
				s.NextStep = steps[i+1].ID
			} else {
				s.NextStep = workspace.Terminal
			}
		}
		ws.Steps[s.ID] = s
		ws.StepOrder = append(ws.StepOrder, s.ID)
	}
	for _, f := range fns {
		ws.Functions[f.Name] = f
		ws.FuncOrder = append(ws.FuncOrder, f.Name)
	}
	return ws
}

var processTextFn = &workspace.Function{
	Name:        "process_text",
	Description: "Process text with various operations",
	Parameters: []workspace.Param{
		{Name: "text", Type: "string"},
		{Name: "operations", Type: "array"},
	},
}

func newExecutor(ws *workspace.Workspace, gw llm.Gateway, reg *functions.Registry, opts ...Option) *Executor {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(ws, gw, reg, opts...)
}

func TestRun_OneStepNoFunctions(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "only", Chat: chat("You are helpful.", "Say hi.")}})
	gw := llm.NewMockGateway()
	gw.SetResponse(llm.TextResponse("hi"))

	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry()).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Results)
	assert.Equal(t, 1, gw.CallCount())
	assert.Equal(t, 15, res.TotalTokens)
	assert.Equal(t, "gpt-4", gw.LastRequest().Model)
	assert.Empty(t, gw.LastRequest().Tools)
}

func TestRun_ProcessTextScenario(t *testing.T) {
	ws := build([]*workspace.Step{{
		ID:        "process",
		Chat:      chat("You process text.", "Process '$text'"),
		Functions: []string{"process_text"},
	}}, processTextFn)

	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{
			ID:        "call_1",
			Name:      "process_text",
			Arguments: `{"text":"Hello, world!","operations":["lowercase","count_chars"]}`,
		}),
		llm.TextResponse("done"),
	)

	exec := newExecutor(ws, gw, functions.NewBuiltinRegistry())
	run := NewRun(map[string]string{"text": "Hello, world!"})
	res, err := exec.Execute(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, map[string]interface{}{"lowercase": "hello, world!", "count_chars": 13}, res.Results["process_text"])
	assert.Equal(t, 30, res.TotalTokens)

	first := gw.Requests()[0]
	assert.Equal(t, "Process 'Hello, world!'", first.Messages[1].Content)
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "process_text", first.Tools[0].Name)

	msgs := run.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, `{"count_chars":13,"lowercase":"hello, world!"}`, msgs[3].Content)
	assert.Equal(t, "done", msgs[4].Content)
}

func TestRun_IterationCap(t *testing.T) {
	ws := build([]*workspace.Step{{
		ID:        "process",
		Chat:      chat("s", "u"),
		Functions: []string{"process_text"},
	}}, processTextFn)

	gw := llm.NewMockGateway()
	gw.SetHandler(func(llm.Request) (*llm.Response, error) {
		return llm.ToolCallResponse(llm.ToolCall{ID: "c", Name: "process_text", Arguments: `{"text":"x","operations":["uppercase"]}`}), nil
	})

	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry()).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, gw.CallCount())
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 5, res.Iterations["process"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "iteration limit (5)")
	assert.Equal(t, map[string]interface{}{"uppercase": "X"}, res.Results["process_text"])
}

func TestRun_IterationCapConfigurable(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"process_text"}}}, processTextFn)
	gw := llm.NewMockGateway()
	gw.SetHandler(func(llm.Request) (*llm.Response, error) {
		return llm.ToolCallResponse(llm.ToolCall{ID: "c", Name: "process_text", Arguments: `{"text":"x","operations":[]}`}), nil
	})

	_, err := newExecutor(ws, gw, functions.NewBuiltinRegistry(), WithMaxIterations(2)).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.CallCount())
}

func TestRun_ParallelResultsInRequestOrder(t *testing.T) {
	cDone := make(chan struct{})
	aDone := make(chan struct{})
	var mu sync.Mutex
	var completed []string
	finish := func(id string) {
		mu.Lock()
		completed = append(completed, id)
		mu.Unlock()
	}

	reg := functions.NewRegistry()
	require.NoError(t, reg.Register("a", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		<-cDone
		finish("a")
		close(aDone)
		return "A", nil
	}))
	require.NoError(t, reg.Register("b", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		<-aDone
		finish("b")
		return "B", nil
	}))
	require.NoError(t, reg.Register("c", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		finish("c")
		close(cDone)
		return "C", nil
	}))

	ws := build([]*workspace.Step{{
		ID:                     "fan",
		Chat:                   chat("s", "u"),
		Functions:              []string{"a", "b", "c"},
		RunFunctionsInParallel: true,
	}}, &workspace.Function{Name: "a"}, &workspace.Function{Name: "b"}, &workspace.Function{Name: "c"})

	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(
			llm.ToolCall{ID: "a", Name: "a", Arguments: `{}`},
			llm.ToolCall{ID: "b", Name: "b", Arguments: `{}`},
			llm.ToolCall{ID: "c", Name: "c", Arguments: `{}`},
		),
		llm.TextResponse("done"),
	)

	run := NewRun(nil)
	res, err := newExecutor(ws, gw, reg, WithToolConcurrency(3)).Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"c", "a", "b"}, completed)

	var ids []string
	for _, m := range run.Messages() {
		if m.Role == llm.RoleTool {
			ids = append(ids, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRun_ToolErrorIsContained(t *testing.T) {
	reg := functions.NewRegistry()
	require.NoError(t, reg.Register("boom", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, errors.New("exploded")
	}))
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"boom"}}}, &workspace.Function{Name: "boom"})

	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "boom", Arguments: `{}`}),
		llm.TextResponse("recovered"),
	)

	store := audit.NewMemoryStore()
	res, err := newExecutor(ws, gw, reg, WithStore(store)).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, map[string]interface{}{"error": "exploded"}, res.Results["boom"])
	assert.Equal(t, `{"error":"exploded"}`, gw.LastRequest().Messages[3].Content)

	tree, err := audit.LoadTree(context.Background(), store, res.RunID)
	require.NoError(t, err)
	step := tree.Children[0]
	require.Len(t, step.Children, 3)
	call := step.Children[1]
	assert.Equal(t, audit.KindFunctionCall, call.Kind)
	assert.Equal(t, audit.StatusFailed, call.Status)
	assert.Equal(t, "exploded", call.Error)
}

func TestRun_UnboundFunctionFailsRun(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"ghost"}}},
		&workspace.Function{Name: "ghost", Code: "def ghost(): return 1"})

	gw := llm.NewMockGateway()
	store := audit.NewMemoryStore()
	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry(), WithStore(store)).Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, gw.CallCount())

	rec, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, rec.Status)
}

func TestRun_UnregisteredToolCallFailsRun(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"process_text"}}}, processTextFn)
	gw := llm.NewMockGateway()
	gw.QueueResponses(llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "rm_rf", Arguments: `{}`}))

	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry()).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRun_AliasedFunctionDispatchesToImplementation(t *testing.T) {
	summarize := &workspace.Function{
		Name:           "summarize",
		Description:    "Summarize text",
		Implementation: "process_text",
		Parameters:     processTextFn.Parameters,
	}
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"summarize"}}}, summarize)

	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "summarize", Arguments: `{"text":"Hi","operations":["lowercase"]}`}),
		llm.TextResponse("done"),
	)

	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry()).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, map[string]interface{}{"lowercase": "hi"}, res.Results["summarize"])
	require.Len(t, gw.Requests()[0].Tools, 1)
	assert.Equal(t, "summarize", gw.Requests()[0].Tools[0].Name)
}

func TestRun_ToolOutsideStepCatalogFailsRun(t *testing.T) {
	ran := false
	reg := functions.NewRegistry()
	require.NoError(t, reg.Register("notify", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		ran = true
		return "sent", nil
	}))

	// notify is declared for the second step only.
	ws := build([]*workspace.Step{
		{ID: "a", Chat: chat("s", "u")},
		{ID: "b", Chat: chat("s", "u"), Functions: []string{"notify"}},
	}, &workspace.Function{Name: "notify"})

	gw := llm.NewMockGateway()
	gw.QueueResponses(llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "notify", Arguments: `{}`}))

	res, err := newExecutor(ws, gw, reg).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, faults.IsConfiguration(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, ran)
	assert.Empty(t, res.Results)
	assert.Empty(t, gw.Requests()[0].Tools)
}

func TestRun_CancelledBatchKeepsFinishedResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ranThird := false
	reg := functions.NewRegistry()
	require.NoError(t, reg.Register("first", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		return "done-first", nil
	}))
	require.NoError(t, reg.Register("second", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		cancel()
		return "done-second", nil
	}))
	require.NoError(t, reg.Register("third", "", func(context.Context, map[string]interface{}) (interface{}, error) {
		ranThird = true
		return "done-third", nil
	}))

	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"first", "second", "third"}}},
		&workspace.Function{Name: "first"}, &workspace.Function{Name: "second"}, &workspace.Function{Name: "third"})

	gw := llm.NewMockGateway()
	gw.QueueResponses(llm.ToolCallResponse(
		llm.ToolCall{ID: "1", Name: "first", Arguments: `{}`},
		llm.ToolCall{ID: "2", Name: "second", Arguments: `{}`},
		llm.ToolCall{ID: "3", Name: "third", Arguments: `{}`},
	))

	store := audit.NewMemoryStore()
	run := NewRun(nil)
	res, err := newExecutor(ws, gw, reg, WithStore(store)).Execute(ctx, run)
	require.Error(t, err)
	assert.True(t, faults.IsCancelled(err))
	assert.Equal(t, StatusCancelled, res.Status)
	assert.False(t, ranThird)
	assert.Equal(t, map[string]interface{}{"first": "done-first", "second": "done-second"}, res.Results)

	var replies []string
	for _, m := range run.Messages() {
		if m.Role == llm.RoleTool {
			replies = append(replies, m.Content)
		}
	}
	assert.Equal(t, []string{"done-first", "done-second"}, replies)

	tree, err := audit.LoadTree(context.Background(), store, res.RunID)
	require.NoError(t, err)
	step := tree.Children[0]
	require.Len(t, step.Children, 3)
	for _, call := range step.Children[1:] {
		assert.Equal(t, audit.KindFunctionCall, call.Kind)
		assert.Equal(t, audit.StatusCompleted, call.Status)
	}
}

func TestRun_NilGatewayResponseIsGatewayError(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u")}})
	gw := llm.NewMockGateway()
	gw.SetHandler(func(llm.Request) (*llm.Response, error) { return nil, nil })

	res, err := newExecutor(ws, gw, nil).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, faults.IsGateway(err))
	assert.False(t, faults.IsConfiguration(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "no response")
}

func TestExecute_RunIDMatchesAuditRecord(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u")}})
	store := audit.NewMemoryStore()
	run := NewRun(nil)
	id := run.ID

	res, err := newExecutor(ws, llm.NewMockGateway(), nil, WithStore(store)).Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, id, res.RunID)

	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, audit.KindRun, rec.Kind)
}

func TestRun_GatewayErrorFailsRun(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u")}, {ID: "t", Chat: chat("s", "u")}})
	gw := llm.NewMockGateway()
	gw.SetError(errors.New("rate limited"))

	run := NewRun(nil)
	res, err := newExecutor(ws, gw, nil).Execute(context.Background(), run)
	require.Error(t, err)
	assert.True(t, faults.IsGateway(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "rate limited")
	assert.Equal(t, []string{"s"}, run.Steps())
}

func TestRun_CancelledMidStep(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"process_text"}}}, processTextFn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := llm.NewMockGateway()
	gw.SetHandler(func(llm.Request) (*llm.Response, error) {
		cancel()
		return llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "process_text", Arguments: `{"text":"x","operations":[]}`}), nil
	})

	store := audit.NewMemoryStore()
	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry(), WithStore(store)).Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, faults.IsCancelled(err))
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 15, res.TotalTokens)

	tree, err := audit.LoadTree(context.Background(), store, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusCancelled, tree.Status)
	assert.Equal(t, audit.StatusCancelled, tree.Children[0].Status)
}

func TestRun_PassConversationToNextStep(t *testing.T) {
	ws := build([]*workspace.Step{
		{ID: "one", Chat: chat("first system", "first user"), PassConversationToNextStep: true},
		{ID: "two", Chat: chat("second system", "second user")},
		{ID: "three", Chat: chat("third system", "third user")},
	})
	gw := llm.NewMockGateway()
	gw.QueueResponses(llm.TextResponse("r1"), llm.TextResponse("r2"), llm.TextResponse("r3"))

	_, err := newExecutor(ws, gw, nil).Run(context.Background(), nil)
	require.NoError(t, err)

	reqs := gw.Requests()
	require.Len(t, reqs, 3)
	want := append(llm.CloneMessages(reqs[0].Messages), llm.Message{Role: llm.RoleAssistant, Content: "r1"})
	assert.Equal(t, want, reqs[1].Messages)
	// step two did not pass its conversation on
	assert.Equal(t, chat("third system", "third user"), reqs[2].Messages)
}

func TestRun_VisitsEachStepOnce(t *testing.T) {
	ws := build([]*workspace.Step{
		{ID: "a", Chat: chat("s", "u")},
		{ID: "b", Chat: chat("s", "u"), Model: "claude-sonnet-4"},
		{ID: "c", Chat: chat("s", "u")},
	})
	gw := llm.NewMockGateway()

	run := NewRun(nil)
	res, err := newExecutor(ws, gw, nil, WithDefaultModel("gpt-4o-mini")).Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, run.Steps())
	assert.Equal(t, 3, gw.CallCount())
	assert.Equal(t, 45, res.TotalTokens)

	reqs := gw.Requests()
	assert.Equal(t, "gpt-4o-mini", reqs[0].Model)
	assert.Equal(t, "claude-sonnet-4", reqs[1].Model)
}

func TestExecute_RejectsReuse(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "a", Chat: chat("s", "u")}})
	exec := newExecutor(ws, llm.NewMockGateway(), nil)
	run := NewRun(nil)

	_, err := exec.Execute(context.Background(), run)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), run)
	assert.Error(t, err)
}

func TestRun_AuditTreeAndTokens(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "process", Chat: chat("s", "$text"), Functions: []string{"process_text"}}}, processTextFn)
	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "process_text", Arguments: `{"text":"ab","operations":["count_chars"]}`}),
		llm.TextResponse("done"),
	)
	store := audit.NewMemoryStore()

	res, err := newExecutor(ws, gw, functions.NewBuiltinRegistry(), WithStore(store)).Run(context.Background(), map[string]string{"text": "ab"})
	require.NoError(t, err)

	tree, err := audit.LoadTree(context.Background(), store, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, audit.KindRun, tree.Kind)
	assert.Equal(t, 30, tree.Tokens)
	assert.Equal(t, map[string]string{"text": "ab"}, tree.Input.(map[string]interface{})["inputs"])

	require.Len(t, tree.Children, 1)
	step := tree.Children[0]
	assert.Equal(t, "process", step.Name)
	var kinds []audit.Kind
	for _, c := range step.Children {
		kinds = append(kinds, c.Kind)
		assert.Equal(t, audit.StatusCompleted, c.Status)
	}
	assert.Equal(t, []audit.Kind{audit.KindChat, audit.KindFunctionCall, audit.KindChat}, kinds)
	assert.Equal(t, 15, step.Children[0].Tokens)
}

func TestRun_SpanHierarchy(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	ws := build([]*workspace.Step{{ID: "process", Chat: chat("s", "u"), Functions: []string{"process_text"}}}, processTextFn)
	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "process_text", Arguments: `{"text":"x","operations":[]}`}),
		llm.TextResponse("done"),
	)

	_, err := newExecutor(ws, gw, functions.NewBuiltinRegistry(), WithTracer(tp.Tracer("test"))).Run(context.Background(), nil)
	require.NoError(t, err)

	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, s := range sr.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	require.Len(t, byName["run"], 1)
	require.Len(t, byName["step.process"], 1)
	require.Len(t, byName["model.call"], 2)
	require.Len(t, byName["function.process_text"], 1)

	run := byName["run"][0]
	step := byName["step.process"][0]
	assert.Equal(t, run.SpanContext().SpanID(), step.Parent().SpanID())
	for _, m := range byName["model.call"] {
		assert.Equal(t, step.SpanContext().SpanID(), m.Parent().SpanID())
	}
	assert.Equal(t, step.SpanContext().SpanID(), byName["function.process_text"][0].Parent().SpanID())

	var status string
	for _, kv := range run.Attributes() {
		if kv.Key == "run.status" {
			status = kv.Value.AsString()
		}
	}
	assert.Equal(t, "completed", status)
}

func TestRun_Callbacks(t *testing.T) {
	ws := build([]*workspace.Step{{ID: "s", Chat: chat("s", "u"), Functions: []string{"process_text"}}}, processTextFn)
	gw := llm.NewMockGateway()
	gw.QueueResponses(
		llm.ToolCallResponse(llm.ToolCall{ID: "1", Name: "process_text", Arguments: `{"text":"x","operations":[]}`}),
		llm.TextResponse("done"),
	)

	exec := newExecutor(ws, gw, functions.NewBuiltinRegistry())
	var events []string
	exec.OnStepStart = func(_, step string) { events = append(events, "start:"+step) }
	exec.OnToolCall = func(_, name string, _ interface{}, failed bool) { events = append(events, "tool:"+name) }
	exec.OnStepComplete = func(_, step string, status Status) { events = append(events, "done:"+step+":"+string(status)) }

	_, err := exec.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:s", "tool:process_text", "done:s:completed"}, events)
}

func TestInterpolate(t *testing.T) {
	out, unresolved := interpolate("Hi $name, ${name}! $missing $5", map[string]string{"name": "Ada"})
	assert.Equal(t, "Hi Ada, Ada! $missing $5", out)
	assert.Equal(t, []string{"missing"}, unresolved)
}
