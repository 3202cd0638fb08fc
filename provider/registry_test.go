package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/core"
)

func TestBindEnforcesContract(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Bind(CapabilityChat, "mock", NewMockChatModel("m")))
	assert.Error(t, r.Bind(CapabilityChat, "bad", "not a chat model"))
	assert.Error(t, r.Bind(CapabilitySafety, "bad", NewMockChatModel("m")))
	assert.Error(t, r.Bind(CapabilityChat, "nil", nil))
}

func TestResolveMissingBinding(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Chat()
	assert.ErrorIs(t, err, core.ErrNoBinding)
	assert.False(t, r.Bound(CapabilityChat))
}

func TestHotSwap(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Bind(CapabilityChat, "first", NewMockChatModel("first")))
	require.NoError(t, r.Bind(CapabilityChat, "second", NewMockChatModel("second")))

	_, id, err := r.Chat()
	require.NoError(t, err)
	assert.Equal(t, "second", id)

	r.Unbind(CapabilityChat)
	assert.False(t, r.Bound(CapabilityChat))
}

func TestCallRetriesTransientOnly(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) {
		o.MaxRetries = 2
		o.RetryBackoff = time.Millisecond
	})

	attempts := 0
	err := r.Call(context.Background(), CapabilityChat, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return core.Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCallDoesNotRetryFatal(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) {
		o.MaxRetries = 2
		o.RetryBackoff = time.Millisecond
	})

	attempts := 0
	err := r.Call(context.Background(), CapabilityChat, func(context.Context) error {
		attempts++
		return errors.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCallExhaustsRetries(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) {
		o.MaxRetries = 1
		o.RetryBackoff = time.Millisecond
	})

	attempts := 0
	err := r.Call(context.Background(), CapabilityChat, func(context.Context) error {
		attempts++
		return core.Transient(errors.New("still down"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, core.IsTransient(err))
}

func TestMockChatModelScript(t *testing.T) {
	m := NewMockChatModel("m")
	m.Script(ToolCallResponse("c1", "lookup", "{}"), TextResponse("done"))

	resp, err := m.Chat(context.Background(), ChatRequest{Contents: []core.Content{core.TextContent(core.RoleUser, "hi")}})
	require.NoError(t, err)
	require.Len(t, resp.Content.FunctionCalls(), 1)

	resp, err = m.Chat(context.Background(), ChatRequest{Contents: []core.Content{core.TextContent(core.RoleUser, "hi")}})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content.Text())
	assert.Equal(t, 2, m.Calls())
}
