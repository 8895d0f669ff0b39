package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// OpenAI Chat Completions 请求 / 响应结构

type chatMessage struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionCall `json:"function"`
}

// functionCall.Arguments 在 OpenAI 协议中是 JSON 字符串
type functionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function functionDecl `json:"function"`
}

type functionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []tool         `json:"tools,omitempty"`
	ToolChoice    any            `json:"tool_choice,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	TopP          float32        `json:"top_p,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      chatMessage  `json:"message"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

// =============================================================================
// 转换
// =============================================================================

func toChatMessages(msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := chatMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: functionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toTools(schemas []llm.ToolSchema) []tool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, tool{
			Type: "function",
			Function: functionDecl{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

// toolChoice 把 auto/none/required 原样传递，其余视为工具名
func toolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	}
	return map[string]any{
		"type":     "function",
		"function": map[string]string{"name": choice},
	}
}

// rawArguments 把参数字符串转为 json.RawMessage；非法 JSON 时编码为字符串
func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}

func fromToolCalls(calls []toolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	return out
}

func toChatResponse(r chatResponse, provider string) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:       r.ID,
		Provider: provider,
		Model:    r.Model,
		Status:   llm.StatusCompleted,
		Choices:  make([]llm.ChatChoice, 0, len(r.Choices)),
	}
	for _, c := range r.Choices {
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:      types.RoleAssistant,
				Content:   c.Message.Content,
				Name:      c.Message.Name,
				ToolCalls: fromToolCalls(c.Message.ToolCalls),
			},
		})
	}
	if r.Usage != nil {
		resp.Usage = toUsage(*r.Usage)
	}
	return resp
}

func toUsage(u chatUsage) llm.ChatUsage {
	return llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// =============================================================================
// 错误映射
// =============================================================================

// readErrorMessage 读取错误响应体，优先解析 {"error":{"message":...}}
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// mapHTTPError 把 HTTP 状态码映射为带重试标记的 llm.Error
func mapHTTPError(status int, msg, provider string) *llm.Error {
	e := &llm.Error{
		Message:  fmt.Sprintf("status %d: %s", status, msg),
		Provider: provider,
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case status == http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "content_filter") || strings.Contains(lower, "content policy") {
			e.Code = llm.ErrContentFiltered
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case status == http.StatusServiceUnavailable:
		e.Code = llm.ErrProviderUnavailable
		e.Retryable = true
	case status == 529:
		e.Code = llm.ErrModelOverloaded
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

func upstreamError(provider string, err error) *llm.Error {
	return &llm.Error{
		Code:      llm.ErrUpstreamError,
		Message:   "request failed",
		Retryable: true,
		Provider:  provider,
		Cause:     err,
	}
}
