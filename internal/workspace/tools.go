package workspace

import (
	"strings"

	"github.com/vinayprograms/agentrun/internal/llm"
)

// Tools builds the tool catalog offered to the model for a step.
// Every declared parameter is required.
func (w *Workspace) Tools(step *Step) []llm.ToolDef {
	var defs []llm.ToolDef
	for _, name := range step.Functions {
		fn, ok := w.Functions[name]
		if !ok {
			continue
		}
		defs = append(defs, fn.ToolDef())
	}
	return defs
}

// ToolDef converts the function into a model tool definition.
func (f *Function) ToolDef() llm.ToolDef {
	props := make(map[string]interface{}, len(f.Parameters))
	required := make([]string, 0, len(f.Parameters))
	for _, p := range f.Parameters {
		typ := schemaType(p)
		prop := map[string]interface{}{
			"type":        typ,
			"description": p.Description,
		}
		if typ == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop["items"] = map[string]interface{}{"type": items}
		}
		props[p.Name] = prop
		required = append(required, p.Name)
	}
	return llm.ToolDef{
		Name:        f.Name,
		Description: f.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func schemaType(p Param) string {
	switch t := strings.ToLower(p.Type); t {
	case "string", "number", "integer", "boolean", "object", "array":
		return t
	case "list":
		return "array"
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	case "dict":
		return "object"
	default:
		return "string"
	}
}
