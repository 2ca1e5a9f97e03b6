// Package functions provides the function registry that backs workspace tool calls.
package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// Func is a callable implementation. It receives the decoded arguments and
// returns a JSON-serializable value. Long-running functions must honour ctx.
type Func func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Function is a registered implementation with optional metadata.
type Function struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema // nil when the implementation is untyped
	Call        Func
}

// Registry maps names to implementations. Registration happens at startup;
// after that the registry is read-only and safe to share between runs.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]*Function
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]*Function)}
}

// Register adds an untyped implementation.
func (r *Registry) Register(name, description string, fn Func) error {
	return r.RegisterFunction(&Function{Name: name, Description: description, Call: fn})
}

// RegisterFunction adds a fully described implementation.
func (r *Registry) RegisterFunction(f *Function) error {
	if f == nil || f.Name == "" || f.Call == nil {
		return fmt.Errorf("function must have a name and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[f.Name]; exists {
		return fmt.Errorf("function %q already registered", f.Name)
	}
	r.funcs[f.Name] = f
	return nil
}

// Resolve returns the callable registered under name.
func (r *Registry) Resolve(name string) (Func, bool) {
	f, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return f.Call, true
}

// Lookup returns the full registration for name.
func (r *Registry) Lookup(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Typed adapts a function taking a decoded argument struct into a Function
// whose schema is reflected from T.
func Typed[T any](name, description string, fn func(ctx context.Context, args T) (interface{}, error)) *Function {
	return &Function{
		Name:        name,
		Description: description,
		Schema:      Reflect[T](),
		Call: func(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
			var args T
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encoding arguments: %w", err)
			}
			if err := json.Unmarshal(b, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}
}

// Reflect derives an inline JSON schema for T.
func Reflect[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	var v T
	return r.Reflect(&v)
}

// ParamTypes lists the top-level property types declared by a schema,
// keyed by property name. A nil schema yields nil.
func ParamTypes(schema *jsonschema.Schema) map[string]string {
	if schema == nil || schema.Properties == nil {
		return nil
	}
	out := make(map[string]string)
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		typ := ""
		if pair.Value != nil {
			typ = pair.Value.Type
		}
		out[pair.Key] = typ
	}
	return out
}
