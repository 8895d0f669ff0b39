package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	root := errors.New("connection reset")
	err := NewError("STORE_UNAVAILABLE", "commit failed").WithCause(root).WithRetryable(true)

	assert.Equal(t, "[STORE_UNAVAILABLE] commit failed: connection reset", err.Error())
	assert.ErrorIs(t, err, root)
	assert.True(t, err.Retryable)
	assert.Equal(t, "[X] plain", NewError("X", "plain").Error())
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("resume: %w", NewError("CHECKPOINT_NOT_FOUND", "missing"))

	assert.Equal(t, ErrorCode("CHECKPOINT_NOT_FOUND"), CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("other")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestMessageHelpers(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "lookup"}}},
		NewToolMessage("1", "lookup", "ok"),
	}

	assert.True(t, msgs[1].HasToolCalls())
	assert.False(t, msgs[0].HasToolCalls())
	assert.Equal(t, "1", msgs[2].ToolCallID)
}
