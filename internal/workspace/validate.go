package workspace

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/functions"
)

// Validate checks the step graph: a first step exists, every nextStep
// resolves, there are no cycles, and every referenced function is in the
// catalog.
func Validate(ws *Workspace) error {
	var errs []string

	if ws.Name == "" {
		errs = append(errs, "workspace name is required")
	}

	if ws.First == "" {
		errs = append(errs, "no first step declared in workspace steps")
	} else if _, ok := ws.Steps[ws.First]; !ok {
		errs = append(errs, fmt.Sprintf("first step %q has no details", ws.First))
	}

	for _, id := range ws.StepOrder {
		step, ok := ws.Steps[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("step %q is declared but has no details", id))
			continue
		}
		if !IsTerminal(step.NextStep) {
			if _, ok := ws.Steps[step.NextStep]; !ok {
				errs = append(errs, fmt.Sprintf("step %q: nextStep %q does not resolve to a step", id, step.NextStep))
			}
		}
		for _, name := range step.Functions {
			if _, ok := ws.Functions[name]; !ok {
				errs = append(errs, fmt.Sprintf("step %q: function %q is not in the function catalog", id, name))
			}
		}
		for i, msg := range step.Chat {
			if msg.Role == "" {
				errs = append(errs, fmt.Sprintf("step %q: chat[%d] has no role", id, i))
			}
		}
	}

	for _, name := range ws.FuncOrder {
		if _, ok := ws.Functions[name]; !ok {
			errs = append(errs, fmt.Sprintf("function %q is declared but has no details", name))
		}
	}

	if cycle := findCycle(ws); cycle != nil {
		errs = append(errs, fmt.Sprintf("cycle in step graph: %s", strings.Join(cycle, " -> ")))
	}

	if len(errs) > 0 {
		return faults.Configf("validation errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// findCycle walks nextStep pointers from every step and returns the first
// cycle found, closed with its starting id.
func findCycle(ws *Workspace) []string {
	for _, start := range ws.StepOrder {
		pos := make(map[string]int)
		var path []string
		for id := start; !IsTerminal(id); {
			if i, ok := pos[id]; ok {
				return append(path[i:], id)
			}
			step, ok := ws.Steps[id]
			if !ok {
				break
			}
			pos[id] = len(path)
			path = append(path, id)
			id = step.NextStep
		}
	}
	return nil
}

// Bind checks every catalog function against the registry: an implementation
// must be registered, and declared parameters must exist in its argument
// schema with a compatible type. Inline code is never executed.
func Bind(ws *Workspace, reg *functions.Registry) error {
	var errs []string
	for _, name := range ws.FuncOrder {
		fn, ok := ws.Functions[name]
		if !ok {
			continue
		}
		impl, ok := reg.Lookup(fn.ImplementationName())
		if !ok {
			if fn.Code != "" {
				errs = append(errs, fmt.Sprintf("function %q has inline code but no registered implementation named %q", name, fn.ImplementationName()))
			} else {
				errs = append(errs, fmt.Sprintf("function %q has no registered implementation", name))
			}
			continue
		}

		declared := functions.ParamTypes(impl.Schema)
		if declared == nil {
			continue
		}
		for _, p := range fn.Parameters {
			typ, ok := declared[p.Name]
			if !ok {
				errs = append(errs, fmt.Sprintf("function %q: parameter %q is not accepted by %s", name, p.Name, impl.Name))
				continue
			}
			if !compatible(schemaType(p), typ) {
				errs = append(errs, fmt.Sprintf("function %q: parameter %q is %s but %s expects %s", name, p.Name, schemaType(p), impl.Name, typ))
			}
		}
	}
	if len(errs) > 0 {
		return faults.Configf("binding errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func compatible(declared, actual string) bool {
	if actual == "" || declared == actual {
		return true
	}
	return (declared == "integer" && actual == "number") || (declared == "number" && actual == "integer")
}
