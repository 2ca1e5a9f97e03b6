package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationErrorWrapping(t *testing.T) {
	base := Configf("step %q points at unknown step %q", "a", "b")
	wrapped := fmt.Errorf("loading workspace: %w", base)

	assert.True(t, IsConfiguration(wrapped))
	assert.False(t, IsGateway(wrapped))
	assert.Contains(t, wrapped.Error(), `unknown step "b"`)
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("503 upstream")
	err := fmt.Errorf("step s1: %w", &GatewayError{Model: "gpt-4", Err: cause})

	assert.True(t, IsGateway(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gpt-4")
}

func TestCancelledMatchesSentinelAndContext(t *testing.T) {
	err := Cancelled("gateway call", context.Canceled)

	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "gateway call")
	assert.False(t, IsConfiguration(err))
}

func TestIterationLimitMessage(t *testing.T) {
	w := &IterationLimitExceeded{Step: "summarize", Limit: 5}
	assert.Equal(t, `step "summarize" reached the iteration limit (5) with tool calls pending`, w.Error())
}
