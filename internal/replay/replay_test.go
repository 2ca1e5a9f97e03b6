package replay

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/llm"
)

// buildRun records a one-step run with one model call and one failed
// function call.
func buildRun(t *testing.T) audit.Store {
	t.Helper()
	ctx := context.Background()
	store := audit.NewMemoryStore()
	start := time.Now().Add(-time.Second)

	must := func(id string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return id
	}
	seal := func(id string, s audit.Seal) {
		t.Helper()
		if err := store.Seal(ctx, id, s); err != nil {
			t.Fatalf("seal: %v", err)
		}
	}

	runID := must(store.Create(ctx, audit.Record{
		ID: "run-1", Kind: audit.KindRun, Name: "Text Agent", StartedAt: start,
		Input: map[string]interface{}{"version": "v1", "inputs": map[string]string{"text": "Hi"}},
	}))
	stepID := must(store.Create(ctx, audit.Record{
		Kind: audit.KindStep, ParentID: runID, RunID: runID, Name: "1. Process", StartedAt: start,
		Input: map[string]interface{}{"model": "gpt-4o", "functions": []string{"process_text"}, "parallel": true},
	}))
	chatID := must(store.Create(ctx, audit.Record{
		Kind: audit.KindChat, ParentID: stepID, RunID: runID, Name: "gpt-4o", StartedAt: start,
		Input: map[string]interface{}{"iteration": 1},
	}))
	seal(chatID, audit.Seal{
		Status: audit.StatusCompleted,
		Output: map[string]interface{}{
			"content":    "calling the tool",
			"tool_calls": []llm.ToolCall{{ID: "c1", Name: "process_text", Arguments: `{"text":"Hi"}`}},
			"usage":      llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
		Tokens: 15,
	})
	callID := must(store.Create(ctx, audit.Record{
		Kind: audit.KindFunctionCall, ParentID: stepID, RunID: runID, Name: "process_text", StartedAt: start,
		Input: map[string]interface{}{"call_id": "c1", "arguments": `{"text":"Hi"}`},
	}))
	seal(callID, audit.Seal{Status: audit.StatusFailed, Output: map[string]interface{}{"error": "boom"}, Error: "boom"})
	seal(stepID, audit.Seal{Status: audit.StatusCompleted})
	seal(runID, audit.Seal{
		Status: audit.StatusCompleted,
		Output: map[string]interface{}{"warnings": []string{"iteration limit (5) reached in step 1. Process"}},
		Tokens: 15,
	})
	return store
}

func TestReplayRun(t *testing.T) {
	store := buildRun(t)
	var buf bytes.Buffer
	if err := New(&buf, 0).ReplayRun(context.Background(), store, "run-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"RUN", "run-1", "Text Agent", "@v1", "text:", "Hi",
		"STEP", "1. Process",
		"MODEL", "gpt-4o", "#1", "15 tok", "process_text",
		"CALL", "boom",
		"Summary", "iteration limit (5)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "calling the tool") {
		t.Error("response content should only appear when verbose")
	}
}

func TestReplayVerbose(t *testing.T) {
	store := buildRun(t)
	var buf bytes.Buffer
	if err := New(&buf, 1).ReplayRun(context.Background(), store, "run-1"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"calling the tool", "arguments:", `"text": "Hi"`, "(parallel)"} {
		if !strings.Contains(out, want) {
			t.Errorf("verbose output missing %q:\n%s", want, out)
		}
	}
}

func TestReplayRun_NotFound(t *testing.T) {
	err := New(&bytes.Buffer{}, 0).ReplayRun(context.Background(), audit.NewMemoryStore(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestComputeStats(t *testing.T) {
	store := buildRun(t)
	tree, err := audit.LoadTree(context.Background(), store, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	stats := ComputeStats(tree)
	if stats.StepCount != 1 || stats.ModelCallCount != 1 || stats.FunctionCallCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.FunctionFailures != 1 {
		t.Errorf("expected 1 failure, got %d", stats.FunctionFailures)
	}
	if stats.TotalTokens != 15 || stats.PromptTokens != 10 || stats.CompletionTokens != 5 {
		t.Errorf("unexpected tokens: %+v", stats)
	}
	cost := stats.Cost(&Pricing{InputPer1M: 1e6, OutputPer1M: 2e6})
	if cost != 20 {
		t.Errorf("expected cost 20, got %v", cost)
	}
}

func TestTruncate(t *testing.T) {
	r := New(&bytes.Buffer{}, 0, WithMaxContentSize(4))
	got := r.truncate("abcdefgh")
	if !strings.HasPrefix(got, "abcd\n") || !strings.Contains(got, "8 bytes total") {
		t.Errorf("unexpected truncation: %q", got)
	}
	if New(&bytes.Buffer{}, 0).truncate("short") != "short" {
		t.Error("short content should pass through")
	}
}
