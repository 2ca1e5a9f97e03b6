package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/tidwall/gjson"

	"github.com/vinayprograms/agentrun/internal/audit"
)

// Replayer formats a run's audit tree as a timeline.
type Replayer struct {
	output         io.Writer
	verbosity      int      // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int      // 0 = unlimited
	width          int      // wrap width for content blocks
	pricing        *Pricing // optional, enables cost in the summary
	seq            int
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits the size of each rendered content block.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) { r.maxContentSize = size }
}

// WithWidth sets the wrap width for content blocks.
func WithWidth(width int) ReplayerOption {
	return func(r *Replayer) {
		if width > 20 {
			r.width = width
		}
	}
}

// WithPricing enables cost calculation with the given per-million rates.
func WithPricing(inputPer1M, outputPer1M float64) ReplayerOption {
	return func(r *Replayer) {
		r.pricing = &Pricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
	}
}

// New creates a Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
		width:          100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayRun loads the tree of runID from store and renders it.
func (r *Replayer) ReplayRun(ctx context.Context, store audit.Store, runID string) error {
	tree, err := audit.LoadTree(ctx, store, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return r.Replay(tree)
}

// Replay renders tree: a header, one timeline line per record, and a
// summary.
func (r *Replayer) Replay(tree *audit.Tree) error {
	if tree == nil || tree.Record == nil {
		return fmt.Errorf("empty run tree")
	}
	r.seq = 0
	r.printHeader(tree)
	for _, child := range tree.Children {
		r.printNode(child, 0)
	}
	fmt.Fprintln(r.output)
	r.printSummary(tree)
	return nil
}

func (r *Replayer) printHeader(tree *audit.Tree) {
	in := raw(tree.Input)
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("RUN"), valueStyle.Render(tree.ID))
	fmt.Fprintf(r.output, "%s %s", labelStyle.Render("workspace:"), valueStyle.Render(tree.Name))
	if v := gjson.GetBytes(in, "version").String(); v != "" {
		fmt.Fprintf(r.output, " %s", dimStyle.Render("@"+v))
	}
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("started:"), dimStyle.Render(tree.StartedAt.Format(time.RFC3339)))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("status:"), statusText(tree.Status))
	if inputs := gjson.GetBytes(in, "inputs"); inputs.IsObject() {
		inputs.ForEach(func(k, v gjson.Result) bool {
			fmt.Fprintf(r.output, "  %s %s\n", labelStyle.Render(k.String()+":"), valueStyle.Render(v.String()))
			return true
		})
	}
	fmt.Fprintln(r.output, divider)
	fmt.Fprintln(r.output)
}

func (r *Replayer) printNode(node *audit.Tree, depth int) {
	r.seq++
	indent := strings.Repeat("  ", depth)
	seq := seqStyle.Render(fmt.Sprintf("%d", r.seq))
	elapsed := dimStyle.Render(formatDuration(node.DurationMs))

	switch node.Kind {
	case audit.KindStep:
		fmt.Fprintf(r.output, "%s %s%s %s %s %s\n", seq, indent,
			stepStyle.Render("STEP"), stepStyle.Render(node.Name), statusText(node.Status), elapsed)
		if r.verbosity >= 1 {
			in := raw(node.Input)
			fmt.Fprintf(r.output, "      %s  %s %s\n", indent, labelStyle.Render("model:"),
				valueStyle.Render(gjson.GetBytes(in, "model").String()))
			if fns := gjson.GetBytes(in, "functions").Array(); len(fns) > 0 {
				names := make([]string, len(fns))
				for i, f := range fns {
					names[i] = f.String()
				}
				mode := "sequential"
				if gjson.GetBytes(in, "parallel").Bool() {
					mode = "parallel"
				}
				fmt.Fprintf(r.output, "      %s  %s %s %s\n", indent, labelStyle.Render("functions:"),
					valueStyle.Render(strings.Join(names, ", ")), dimStyle.Render("("+mode+")"))
			}
		}

	case audit.KindChat:
		out := raw(node.Output)
		iter := gjson.GetBytes(raw(node.Input), "iteration").Int()
		line := fmt.Sprintf("%s %s%s %s %s", seq, indent,
			chatStyle.Render("MODEL"), chatStyle.Render(node.Name),
			dimStyle.Render(fmt.Sprintf("#%d", iter)))
		if node.Tokens > 0 {
			line += " " + dimStyle.Render(fmt.Sprintf("%d tok", node.Tokens))
		}
		if calls := gjson.GetBytes(out, "tool_calls.#.name").Array(); len(calls) > 0 {
			names := make([]string, len(calls))
			for i, c := range calls {
				names[i] = c.String()
			}
			line += " " + toolStyle.Render("→ "+strings.Join(names, ", "))
		}
		fmt.Fprintf(r.output, "%s %s %s\n", line, statusText(node.Status), elapsed)
		if r.verbosity >= 1 {
			if est := gjson.GetBytes(raw(node.Input), "estimated_tokens"); est.Exists() {
				fmt.Fprintf(r.output, "      %s  %s %s\n", indent, labelStyle.Render("prompt estimate:"),
					dimStyle.Render(fmt.Sprintf("~%d tok", est.Int())))
			}
			if content := gjson.GetBytes(out, "content").String(); content != "" {
				r.printBlock(indent, "response", content)
			}
		}
		if r.verbosity >= 2 {
			r.printBlock(indent, "messages", prettyJSON(gjson.GetBytes(raw(node.Input), "messages").Raw))
		}

	case audit.KindFunctionCall:
		fmt.Fprintf(r.output, "%s %s%s %s %s %s\n", seq, indent,
			toolStyle.Render("CALL"), toolStyle.Render(node.Name), statusText(node.Status), elapsed)
		if r.verbosity >= 1 {
			if args := gjson.GetBytes(raw(node.Input), "arguments").String(); args != "" {
				r.printBlock(indent, "arguments", prettyJSON(args))
			}
			if node.Output != nil {
				r.printBlock(indent, "result", prettyJSON(string(raw(node.Output))))
			}
		}

	default:
		fmt.Fprintf(r.output, "%s %s%s %s %s\n", seq, indent, node.Kind, node.Name, statusText(node.Status))
	}

	if node.Error != "" {
		fmt.Fprintf(r.output, "      %s  %s\n", indent, errorStyle.Render(node.Error))
	}
	for _, child := range node.Children {
		r.printNode(child, depth+1)
	}
}

// printBlock prints a labelled, wrapped and truncated content block.
func (r *Replayer) printBlock(indent, label, content string) {
	content = r.truncate(content)
	fmt.Fprintf(r.output, "      %s  %s\n", indent, blockHeaderStyle.Render(label+":"))
	wrapped := wordwrap.String(content, r.width)
	for _, line := range strings.Split(wrapped, "\n") {
		fmt.Fprintf(r.output, "      %s  │ %s\n", indent, line)
	}
}

func (r *Replayer) truncate(s string) string {
	if r.maxContentSize <= 0 || len(s) <= r.maxContentSize {
		return s
	}
	return s[:r.maxContentSize] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(s))
}

func (r *Replayer) printSummary(tree *audit.Tree) {
	stats := ComputeStats(tree)
	stats.Print(r.output, r.pricing)

	out := raw(tree.Output)
	if warnings := gjson.GetBytes(out, "warnings").Array(); len(warnings) > 0 {
		fmt.Fprintln(r.output, titleStyle.Render("Warnings"))
		for _, w := range warnings {
			fmt.Fprintf(r.output, "  %s\n", warnStyle.Render(w.String()))
		}
	}
	if tree.Error != "" {
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("error:"), tree.Error)
	}
}

func statusText(s audit.Status) string {
	switch s {
	case audit.StatusCompleted:
		return successStyle.Render("✓")
	case audit.StatusFailed:
		return errorStyle.Render("✗ failed")
	case audit.StatusCancelled:
		return warnStyle.Render("⊘ cancelled")
	default:
		return dimStyle.Render(string(s))
	}
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

// raw returns v as JSON. Records from the memory store hold Go values,
// the durable stores hold decoded JSON; both encode the same way.
func raw(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func prettyJSON(s string) string {
	if !gjson.Valid(s) {
		return s
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(b)
}
