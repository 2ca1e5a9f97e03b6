package llm

import (
	"context"
	"sync"
)

// Request is one recorded MockGateway call.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolDef
}

// MockGateway is a scripted Gateway for tests and offline runs.
// Queued responses are consumed first; after that the default response
// (or handler) answers every call.
type MockGateway struct {
	mu       sync.Mutex
	queue    []*Response
	fallback *Response
	handler  func(Request) (*Response, error)
	err      error
	requests []Request
}

// NewMockGateway creates a mock that answers "ok" with no tool calls.
func NewMockGateway() *MockGateway {
	return &MockGateway{fallback: TextResponse("ok")}
}

// SetResponse sets the response returned once the queue is empty.
func (m *MockGateway) SetResponse(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
}

// QueueResponses appends responses returned in order, one per call.
func (m *MockGateway) QueueResponses(resps ...*Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resps...)
}

// SetError makes every subsequent call fail.
func (m *MockGateway) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetHandler installs a function that computes responses from the request.
func (m *MockGateway) SetHandler(fn func(Request) (*Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Call implements Gateway.
func (m *MockGateway) Call(ctx context.Context, model string, messages []Message, tools []ToolDef) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := Request{Model: model, Messages: CloneMessages(messages), Tools: append([]ToolDef(nil), tools...)}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return cloneResponse(resp), nil
	}
	handler, fallback := m.handler, m.fallback
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return cloneResponse(fallback), nil
}

// Requests returns a copy of every call received so far.
func (m *MockGateway) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CallCount returns the number of calls received.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent call, or nil.
func (m *MockGateway) LastRequest() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

// TextResponse builds a response with plain assistant content.
func TextResponse(content string) *Response {
	return &Response{
		Message: Message{Role: RoleAssistant, Content: content},
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// ToolCallResponse builds a response requesting the given tool calls.
func ToolCallResponse(calls ...ToolCall) *Response {
	return &Response{
		Message: Message{Role: RoleAssistant, ToolCalls: calls},
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// CloneMessages copies a message list including nested tool calls.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

func cloneResponse(resp *Response) *Response {
	if resp == nil {
		return TextResponse("")
	}
	c := *resp
	c.Message.ToolCalls = append([]ToolCall(nil), resp.Message.ToolCalls...)
	return &c
}
