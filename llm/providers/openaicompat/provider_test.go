package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		ProviderName: "test",
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/",
		DefaultModel: "test-model",
		Timeout:      5 * time.Second,
	}, zap.NewNop())
}

// ============================================================
// 🏗️ 构造
// ============================================================

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "openai-compatible", p.Name())
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.Cfg.ModelsEndpoint)
	assert.Equal(t, 60*time.Second, p.Client.Timeout)
	assert.True(t, p.SupportsNativeFunctionCalling())

	custom := New(Config{ProviderName: "vllm", EndpointPath: "/api/chat", Timeout: time.Second}, zap.NewNop())
	assert.Equal(t, "vllm", custom.Name())
	assert.Equal(t, "/api/chat", custom.Cfg.EndpointPath)
	assert.Equal(t, time.Second, custom.Client.Timeout)
}

// ============================================================
// 💬 Completion
// ============================================================

func TestCompletion_Success(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "test-model",
			"created": 1700000000,
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hi there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		TraceID:     "trace-1",
		Messages:    []llm.Message{types.NewSystemMessage("be brief"), {Role: types.RoleUser, Content: "hello"}},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	assert.Equal(t, 64, got.MaxTokens)
	assert.False(t, got.Stream)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, llm.StatusCompleted, resp.Status)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())

	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	assert.Equal(t, "hi there", choice.Message.Content)
	assert.Equal(t, types.RoleAssistant, choice.Message.Role)
}

func TestCompletion_ToolCalls(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{
			"id": "chatcmpl-2",
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"sku\":\"A1\"}"}}]
			}}]
		}`)
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model: "override",
		Messages: []llm.Message{
			{Role: types.RoleUser, Content: "find A1"},
			{Role: types.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "lookup", Arguments: json.RawMessage(`{"sku":"A0"}`)}}},
			{Role: types.RoleTool, ToolCallID: "call_0", Content: "not found"},
		},
		Tools: []llm.ToolSchema{{
			Name:        "lookup",
			Description: "find an item",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		ToolChoice: "lookup",
	})
	require.NoError(t, err)

	assert.Equal(t, "override", got.Model)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "lookup", got.Tools[0].Function.Name)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Tools[0].Function.Parameters))
	assert.Equal(t, map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "lookup"},
	}, got.ToolChoice)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, `{"sku":"A0"}`, got.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_0", got.Messages[2].ToolCallID)

	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", choice.Message.ToolCalls[0].ID)
	assert.Equal(t, "lookup", choice.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"sku":"A1"}`, string(choice.Message.ToolCalls[0].Arguments))
}

func TestCompletion_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      llm.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, llm.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, `denied`, llm.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true},
		{"invalid", http.StatusBadRequest, `{"error":{"message":"bad field","type":"invalid_request_error"}}`, llm.ErrInvalidRequest, false},
		{"filtered", http.StatusBadRequest, `{"error":{"message":"blocked by content_filter"}}`, llm.ErrContentFiltered, false},
		{"timeout", http.StatusGatewayTimeout, ``, llm.ErrUpstreamTimeout, true},
		{"unavailable", http.StatusServiceUnavailable, ``, llm.ErrProviderUnavailable, true},
		{"overloaded", 529, ``, llm.ErrModelOverloaded, true},
		{"server error", http.StatusInternalServerError, `boom`, llm.ErrUpstreamError, true},
		{"not found", http.StatusNotFound, `nope`, llm.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := p.Completion(context.Background(), &llm.ChatRequest{})
			require.Error(t, err)

			var llmErr *llm.Error
			require.True(t, errors.As(err, &llmErr))
			assert.Equal(t, tt.code, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, "test", llmErr.Provider)
			assert.Contains(t, llmErr.Message, fmt.Sprintf("status %d", tt.status))
		})
	}
}

func TestCompletion_NilRequest(t *testing.T) {
	p := New(Config{ProviderName: "test"}, nil)
	_, err := p.Completion(context.Background(), nil)

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

func TestCompletion_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(Config{ProviderName: "test", BaseURL: url, Timeout: time.Second}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
	assert.True(t, llmErr.Retryable)
	assert.NotNil(t, llmErr.Cause)
}

// ============================================================
// 🌊 Stream
// ============================================================

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStream_ContentAndUsage(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeSSE(w,
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"s1","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"s1","model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		)
	})

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: types.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var finish string
	msg, usage, err := llm.CollectStream(ch, func(c llm.StreamChunk) {
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	})
	require.NoError(t, err)

	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)

	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Empty(t, msg.ToolCalls)
	assert.Equal(t, "stop", finish)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestStream_ToolCallFragments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(w,
			`{"id":"s2","model":"m","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
			`{"id":"s2","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"price","arguments":"{\"sku\":"}}]}}]}`,
			`{"id":"s2","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"sku\":\"A1\"}"}}]}}]}`,
			`{"id":"s2","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"\"B2\"}"}}]}}]}`,
			`{"id":"s2","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	})

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)

	msg, _, err := llm.CollectStream(ch, nil)
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "call_a", msg.ToolCalls[0].ID)
	assert.Equal(t, "lookup", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"sku":"A1"}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, "call_b", msg.ToolCalls[1].ID)
	assert.JSONEq(t, `{"sku":"B2"}`, string(msg.ToolCalls[1].Arguments))
}

func TestStream_FlushesPendingToolCallsAtEOF(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		`data: {"id":"s3","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"noop"}}]}}]}` + "\n\n",
	))
	msg, _, err := llm.CollectStream(StreamSSE(context.Background(), body, "test"), nil)
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "noop", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{}`, string(msg.ToolCalls[0].Arguments))
}

func TestStream_MalformedChunk(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {not json}\n\n"))
	_, _, err := llm.CollectStream(StreamSSE(context.Background(), body, "test"), nil)

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
}

func TestStream_HTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := p.Stream(context.Background(), &llm.ChatRequest{})

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
}

func TestStream_ContextCancelStopsReader(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := StreamSSE(ctx, pr, "test")

	go func() {
		fmt.Fprint(pw, `data: {"id":"x","choices":[{"index":0,"delta":{"content":"a"}}]}`+"\n\n")
		fmt.Fprint(pw, `data: {"id":"x","choices":[{"index":0,"delta":{"content":"b"}}]}`+"\n\n")
		pw.Close()
	}()

	first := <-ch
	assert.Equal(t, "a", first.Delta.Content)
	cancel()

	// 通道最终关闭
	for range ch {
	}
}

// ============================================================
// ❤️ HealthCheck
// ============================================================

func TestHealthCheck(t *testing.T) {
	healthy := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[]}`)
	})
	st, err := healthy.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Healthy)

	broken := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	st, err = broken.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, st.Healthy)
}

// ============================================================
// 🔗 与限流包装组合
// ============================================================

func TestRateLimitedWrapper(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, `{"id":"r","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	})
	limited := llm.NewRateLimitedProvider(p, 0, 0, zap.NewNop())

	resp, err := limited.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, "test", limited.Name())
	assert.Equal(t, 1, calls)
}

// ============================================================
// 🔧 辅助函数
// ============================================================

func TestRawArguments(t *testing.T) {
	assert.Equal(t, `{}`, string(rawArguments("  ")))
	assert.Equal(t, `{"a":1}`, string(rawArguments(`{"a":1}`)))
	assert.Equal(t, `"not json"`, string(rawArguments("not json")))
}

func TestToolChoice(t *testing.T) {
	assert.Nil(t, toolChoice(""))
	assert.Equal(t, "auto", toolChoice("auto"))
	assert.Equal(t, "required", toolChoice("required"))
	assert.IsType(t, map[string]any{}, toolChoice("lookup"))
}
