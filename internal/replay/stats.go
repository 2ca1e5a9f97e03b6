package replay

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"github.com/vinayprograms/agentrun/internal/audit"
)

// Pricing holds per-million token rates.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Stats aggregates a run tree.
type Stats struct {
	TotalDurationMs int64

	StepCount     int
	StepDurations map[string]int64

	ModelCallCount   int
	ModelTotalMs     int64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	FunctionCallCount int
	FunctionFailures  int
	FunctionCalls     map[string]int
}

// ComputeStats walks tree and aggregates counts, durations and tokens.
func ComputeStats(tree *audit.Tree) *Stats {
	stats := &Stats{
		StepDurations: make(map[string]int64),
		FunctionCalls: make(map[string]int),
	}
	if tree == nil || tree.Record == nil {
		return stats
	}
	stats.TotalDurationMs = tree.DurationMs
	stats.TotalTokens = tree.Tokens
	walk(tree, stats)
	return stats
}

func walk(node *audit.Tree, stats *Stats) {
	for _, child := range node.Children {
		switch child.Kind {
		case audit.KindStep:
			stats.StepCount++
			stats.StepDurations[child.Name] = child.DurationMs
		case audit.KindChat:
			stats.ModelCallCount++
			stats.ModelTotalMs += child.DurationMs
			usage := gjson.GetBytes(raw(child.Output), "usage")
			stats.PromptTokens += int(usage.Get("prompt_tokens").Int())
			stats.CompletionTokens += int(usage.Get("completion_tokens").Int())
		case audit.KindFunctionCall:
			stats.FunctionCallCount++
			stats.FunctionCalls[child.Name]++
			if child.Status == audit.StatusFailed {
				stats.FunctionFailures++
			}
		}
		walk(child, stats)
	}
}

// Cost returns the estimated spend under p.
func (s *Stats) Cost(p *Pricing) float64 {
	if p == nil {
		return 0
	}
	return float64(s.PromptTokens)/1e6*p.InputPer1M + float64(s.CompletionTokens)/1e6*p.OutputPer1M
}

// Print writes the summary block.
func (s *Stats) Print(w io.Writer, pricing *Pricing) {
	row := lipgloss.NewStyle().Width(18)
	fmt.Fprintln(w, titleStyle.Render("Summary"))
	fmt.Fprintf(w, "  %s %s\n", row.Render(labelStyle.Render("duration")), valueStyle.Render(formatDuration(s.TotalDurationMs)))
	fmt.Fprintf(w, "  %s %d\n", row.Render(labelStyle.Render("steps")), s.StepCount)
	fmt.Fprintf(w, "  %s %d", row.Render(labelStyle.Render("model calls")), s.ModelCallCount)
	if s.ModelCallCount > 0 {
		fmt.Fprintf(w, " %s", dimStyle.Render(fmt.Sprintf("(avg %s)", formatDuration(s.ModelTotalMs/int64(s.ModelCallCount)))))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d", row.Render(labelStyle.Render("function calls")), s.FunctionCallCount)
	if s.FunctionFailures > 0 {
		fmt.Fprintf(w, " %s", errorStyle.Render(fmt.Sprintf("(%d failed)", s.FunctionFailures)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d", row.Render(labelStyle.Render("tokens")), s.TotalTokens)
	if s.PromptTokens+s.CompletionTokens > 0 {
		fmt.Fprintf(w, " %s", dimStyle.Render(fmt.Sprintf("(in %d / out %d)", s.PromptTokens, s.CompletionTokens)))
	}
	fmt.Fprintln(w)
	if pricing != nil {
		fmt.Fprintf(w, "  %s $%.4f\n", row.Render(labelStyle.Render("cost")), s.Cost(pricing))
	}

	if len(s.FunctionCalls) > 0 {
		names := make([]string, 0, len(s.FunctionCalls))
		for name := range s.FunctionCalls {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    %s %d\n", toolStyle.Render(name), s.FunctionCalls[name])
		}
	}
	fmt.Fprintln(w)
}
