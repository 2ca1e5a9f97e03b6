// Utility functions for the executor.
package executor

import (
	"regexp"
	"sort"

	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/llm"
	"github.com/vinayprograms/agentrun/internal/logging"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// interpolate replaces $name and ${name} with run inputs. Unknown names are
// left as-is and returned.
func interpolate(text string, inputs map[string]string) (string, []string) {
	var unresolved []string
	out := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if val, ok := inputs[name]; ok {
			return val
		}
		unresolved = append(unresolved, name)
		return match
	})
	return out, unresolved
}

// interpolateMessages copies a step template with inputs substituted into
// every message content.
func interpolateMessages(template []llm.Message, inputs map[string]string, logger *logging.Logger) []llm.Message {
	msgs := llm.CloneMessages(template)
	seen := make(map[string]bool)
	for i := range msgs {
		content, unresolved := interpolate(msgs[i].Content, inputs)
		msgs[i].Content = content
		for _, name := range unresolved {
			seen[name] = true
		}
	}
	if len(seen) > 0 && len(inputs) > 0 {
		names := make([]string, 0, len(seen))
		for name := range seen {
			names = append(names, name)
		}
		sort.Strings(names)
		logger.Warn("unresolved_variables", map[string]interface{}{
			"variables": names,
		})
	}
	return msgs
}

// stepCatalog resolves tool names against the functions a step declares.
// A catalog name maps to its registered implementation, so aliased
// functions dispatch to the function they name.
type stepCatalog struct {
	ws       *workspace.Workspace
	step     *workspace.Step
	registry *functions.Registry
}

func (c stepCatalog) Resolve(name string) (functions.Func, bool) {
	for _, allowed := range c.step.Functions {
		if allowed != name {
			continue
		}
		fn, ok := c.ws.Functions[name]
		if !ok {
			return nil, false
		}
		return c.registry.Resolve(fn.ImplementationName())
	}
	return nil, false
}
