package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/llm"
)

const (
	detailsSuffix = "#details"
	funcMarker    = "@func-"
	stepMarker    = "@step-"
)

type rootSource struct {
	Steps     []json.RawMessage `json:"steps"`
	Functions []json.RawMessage `json:"functions"`
}

type stepSource struct {
	Chat                       []llm.Message     `json:"chat"`
	Function                   []json.RawMessage `json:"function"`
	Functions                  []json.RawMessage `json:"functions"`
	Model                      string            `json:"model"`
	NextStep                   *string           `json:"nextStep"`
	RunFunctionsInParallel     bool              `json:"runFunctionsInParallel"`
	PassConversationToNextStep bool              `json:"passConversationToNextStep"`
}

// LoadFile reads a workspace source file (JSON, or YAML for .yaml/.yml),
// parses it and validates the step graph.
func LoadFile(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}

	var ws *Workspace
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		ws, err = ParseYAML(data)
	default:
		ws, err = ParseJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// ParseJSON decodes the flat key-encoded JSON source. It does not validate.
func ParseJSON(data []byte) (*Workspace, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &faults.ConfigurationError{Reason: "invalid workspace JSON", Err: err}
	}
	return Parse(raw)
}

// ParseYAML decodes the same flat key layout written as YAML.
func ParseYAML(data []byte) (*Workspace, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &faults.ConfigurationError{Reason: "invalid workspace YAML", Err: err}
	}
	return Parse(raw)
}

// Parse builds a Workspace from the flat key mapping. Keys not ending in
// #details are ignored.
func Parse(raw map[string]interface{}) (*Workspace, error) {
	ws := &Workspace{
		Steps:     make(map[string]*Step),
		Functions: make(map[string]*Function),
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var root *rootSource
	for _, key := range keys {
		if !strings.HasSuffix(key, detailsSuffix) {
			continue
		}
		value := raw[key]

		switch {
		case strings.Contains(key, funcMarker):
			name := segmentAfter(key, funcMarker)
			fn := &Function{}
			if err := decode(value, fn); err != nil {
				return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("function %q", name), Err: err}
			}
			fn.Name = name
			ws.Functions[name] = fn

		case strings.Contains(key, stepMarker):
			id := segmentAfter(key, stepMarker)
			step, err := parseStep(id, value)
			if err != nil {
				return nil, err
			}
			ws.Steps[id] = step

		default:
			if root != nil {
				return nil, faults.Configf("more than one workspace root key (%q)", key)
			}
			root = &rootSource{}
			if err := decode(value, root); err != nil {
				return nil, &faults.ConfigurationError{Reason: "workspace root", Err: err}
			}
			ws.Name, ws.Version = splitIdentity(strings.TrimSuffix(key, detailsSuffix))
		}
	}

	if root == nil {
		return nil, faults.Configf("workspace root key (<name>@<version>#details) is missing")
	}

	seen := make(map[string]bool)
	for i, item := range root.Steps {
		id, err := refName(item)
		if err != nil {
			return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("steps[%d]", i), Err: err}
		}
		if i == 0 {
			ws.First = id
		}
		if !seen[id] {
			seen[id] = true
			ws.StepOrder = append(ws.StepOrder, id)
		}
	}
	ws.StepOrder = append(ws.StepOrder, remaining(ws.Steps, seen)...)

	seen = make(map[string]bool)
	for i, item := range root.Functions {
		name, err := refName(item)
		if err != nil {
			return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("functions[%d]", i), Err: err}
		}
		if !seen[name] {
			seen[name] = true
			ws.FuncOrder = append(ws.FuncOrder, name)
		}
	}
	ws.FuncOrder = append(ws.FuncOrder, remaining(ws.Functions, seen)...)

	return ws, nil
}

func parseStep(id string, value interface{}) (*Step, error) {
	var src stepSource
	if err := decode(value, &src); err != nil {
		return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("step %q", id), Err: err}
	}

	step := &Step{
		ID:                         id,
		Chat:                       src.Chat,
		Model:                      src.Model,
		NextStep:                   Terminal,
		RunFunctionsInParallel:     src.RunFunctionsInParallel,
		PassConversationToNextStep: src.PassConversationToNextStep,
	}
	if src.NextStep != nil && *src.NextStep != "" {
		step.NextStep = *src.NextStep
	}
	for _, item := range append(src.Function, src.Functions...) {
		name, err := refName(item)
		if err != nil {
			return nil, &faults.ConfigurationError{Reason: fmt.Sprintf("step %q function list", id), Err: err}
		}
		step.Functions = append(step.Functions, name)
	}
	return step, nil
}

// refName accepts either "name" or {"id"|"name": "..."}.
func refName(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("empty reference")
		}
		return s, nil
	}
	var obj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("expected a name or an object with id/name: %w", err)
	}
	if obj.ID != "" {
		return obj.ID, nil
	}
	if obj.Name != "" {
		return obj.Name, nil
	}
	return "", fmt.Errorf("reference has neither id nor name")
}

func decode(value interface{}, out interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func segmentAfter(key, marker string) string {
	rest := key[strings.Index(key, marker)+len(marker):]
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func splitIdentity(prefix string) (name, version string) {
	if i := strings.LastIndex(prefix, "@"); i >= 0 {
		return prefix[:i], prefix[i+1:]
	}
	return prefix, ""
}

func remaining[T any](m map[string]T, seen map[string]bool) []string {
	var out []string
	for k := range m {
		if !seen[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
