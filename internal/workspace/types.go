// Package workspace defines the workspace model (step graph plus function
// catalog) and loads it from the flat key-encoded source format.
package workspace

import (
	"github.com/vinayprograms/agentrun/internal/llm"
)

// Terminal is the nextStep sentinel marking the last step.
const Terminal = "-"

// DefaultModel is used by steps that do not name a model.
const DefaultModel = "gpt-4"

// Workspace is a named, versioned step graph plus its function catalog.
// It is immutable once loaded.
type Workspace struct {
	Name      string
	Version   string
	First     string
	Steps     map[string]*Step
	StepOrder []string // declaration order, for display
	Functions map[string]*Function
	FuncOrder []string
}

// Step is one node of the step graph.
type Step struct {
	ID                         string        `json:"id"`
	Chat                       []llm.Message `json:"chat"`
	Model                      string        `json:"model"`
	NextStep                   string        `json:"nextStep"`
	Functions                  []string      `json:"functions"`
	RunFunctionsInParallel     bool          `json:"runFunctionsInParallel"`
	PassConversationToNextStep bool          `json:"passConversationToNextStep"`
}

// Function describes a callable exposed to the model.
type Function struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Parameters     []Param `json:"parameters"`
	Implementation string  `json:"implementation,omitempty"`
	Code           string  `json:"code,omitempty"`
}

// Param is one typed function parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Items       string `json:"items,omitempty"` // element type for arrays, default string
}

// ImplementationName returns the registry name backing the function.
func (f *Function) ImplementationName() string {
	if f.Implementation != "" {
		return f.Implementation
	}
	return f.Name
}

// IsTerminal reports whether id is the terminal sentinel.
func IsTerminal(id string) bool {
	return id == Terminal
}

// ResolveStep returns the step with the given id.
func (w *Workspace) ResolveStep(id string) (*Step, bool) {
	s, ok := w.Steps[id]
	return s, ok
}

// FirstStep returns the id of the entry step.
func (w *Workspace) FirstStep() string {
	return w.First
}

// IsTerminal reports whether id is the terminal sentinel.
func (w *Workspace) IsTerminal(id string) bool {
	return IsTerminal(id)
}

// Chain returns the step ids in execution order. The workspace must be valid.
func (w *Workspace) Chain() []string {
	var ids []string
	seen := make(map[string]bool)
	for id := w.First; !IsTerminal(id) && !seen[id]; {
		s, ok := w.Steps[id]
		if !ok {
			break
		}
		seen[id] = true
		ids = append(ids, id)
		id = s.NextStep
	}
	return ids
}

// ModelFor returns the model a step should call.
func (s *Step) ModelFor(fallback string) string {
	if s.Model != "" {
		return s.Model
	}
	if fallback != "" {
		return fallback
	}
	return DefaultModel
}
