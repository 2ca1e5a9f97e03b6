// Package conversation holds the message transcript owned by a single run.
package conversation

import (
	"encoding/json"

	"github.com/vinayprograms/agentrun/internal/llm"
)

// State is the ordered, append-only transcript of one run.
// It is not safe for concurrent use; only the executor driving the run touches it.
type State struct {
	messages []llm.Message
}

// New creates a state seeded with a copy of msgs.
func New(msgs []llm.Message) *State {
	return &State{messages: llm.CloneMessages(msgs)}
}

// Append adds a message to the end of the transcript.
func (s *State) Append(msg llm.Message) {
	if msg.ToolCalls != nil {
		msg.ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
	}
	s.messages = append(s.messages, msg)
}

// Reset replaces the transcript with a copy of msgs.
func (s *State) Reset(msgs []llm.Message) {
	s.messages = llm.CloneMessages(msgs)
}

// Messages returns a copy of the transcript.
func (s *State) Messages() []llm.Message {
	return llm.CloneMessages(s.messages)
}

// Len returns the number of messages.
func (s *State) Len() int { return len(s.messages) }

// SnapshotForNextStep returns the messages the next step should start from
// when carryForward is set, and nil otherwise (the next step uses its template).
func (s *State) SnapshotForNextStep(carryForward bool) []llm.Message {
	if !carryForward {
		return nil
	}
	return s.Messages()
}

// EstimateTokens approximates the token count as characters/4 over roles,
// contents and serialized tool calls. Informational only.
func (s *State) EstimateTokens() int {
	return EstimateTokens(s.messages)
}

// EstimateTokens applies the characters/4 approximation to msgs.
func EstimateTokens(msgs []llm.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Role) + len(m.Content)
		if len(m.ToolCalls) > 0 {
			if b, err := json.Marshal(m.ToolCalls); err == nil {
				chars += len(b)
			}
		}
	}
	return chars / 4
}
