// Package llm defines the language-model gateway contract and its provider adapters.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested function invocation.
// Arguments is the raw JSON object emitted by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a single gateway call.
type Response struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Gateway is the abstraction over a concrete model provider.
type Gateway interface {
	Call(ctx context.Context, model string, messages []Message, tools []ToolDef) (*Response, error)
}

// Options configures a provider-backed gateway.
type Options struct {
	Provider    string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// New creates a gateway for the configured provider.
func New(opts Options) (Gateway, error) {
	provider := strings.ToLower(opts.Provider)
	switch provider {
	case "openai", "":
		return NewOpenAIGateway(opts), nil
	case "anthropic":
		return NewAnthropicGateway(opts), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
}

// InferProvider guesses the provider from a model name.
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return ""
	}
}
