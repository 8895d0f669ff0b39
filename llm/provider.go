package llm

import (
	"context"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// 统一的 LLM 错误码，用于对齐可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"      // 参数/格式错误
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"         // 未授权或密钥失效
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"         // 上游或本地限流
	ErrContentFiltered     ErrorCode = "LLM_CONTENT_FILTERED"     // 命中内容安全
	ErrModelOverloaded     ErrorCode = "LLM_MODEL_OVERLOADED"     // 模型过载
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"     // 上游超时
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"       // 上游 5xx/网络错误
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE" // Provider 不可用
)

// Error 是 Provider 返回的结构化错误
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// 消息类型直接复用 types 包，避免上层在两套结构间转换
type (
	Message    = types.Message
	ToolCall   = types.ToolCall
	ToolSchema = types.ToolSchema
)

// ResponseStatus 响应状态。后台（长时间运行）响应先返回 in_progress 与续传令牌，
// 调用方稍后携带 ContinuationToken 再次请求以获取结果。
type ResponseStatus string

const (
	StatusCompleted  ResponseStatus = "completed"
	StatusInProgress ResponseStatus = "in_progress"
)

type ChatRequest struct {
	TraceID           string            `json:"trace_id,omitempty"`
	Model             string            `json:"model"`
	Messages          []Message         `json:"messages"`
	MaxTokens         int               `json:"max_tokens,omitempty"`
	Temperature       float32           `json:"temperature,omitempty"`
	TopP              float32           `json:"top_p,omitempty"`
	Stop              []string          `json:"stop,omitempty"`
	Tools             []ToolSchema      `json:"tools,omitempty"`
	ToolChoice        string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Timeout           time.Duration     `json:"timeout,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ContinuationToken string            `json:"continuation_token,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"` // 以 USD 计
}

// Add 累加用量
func (u ChatUsage) Add(other ChatUsage) ChatUsage {
	return ChatUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Cost:             u.Cost + other.Cost,
	}
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID                string         `json:"id,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	Model             string         `json:"model"`
	Choices           []ChatChoice   `json:"choices"`
	Usage             ChatUsage      `json:"usage,omitempty"`
	Status            ResponseStatus `json:"status,omitempty"`
	ContinuationToken string         `json:"continuation_token,omitempty"`
	CreatedAt         time.Time      `json:"created_at,omitempty"`
}

type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"` // 最终 chunk 可带 usage
	Err          *Error     `json:"error,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// Provider 定义了统一的 LLM 适配接口。
// 工具调用通过 ChatRequest.Tools 传递，模型在响应中返回 ToolCalls，由上层执行。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回增量响应通道
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck 执行轻量级健康检查
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string

	// SupportsNativeFunctionCalling 返回是否支持原生 Function Calling
	SupportsNativeFunctionCalling() bool
}
