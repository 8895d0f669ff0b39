// =============================================================================
// OpenAI 兼容 Provider
// =============================================================================
// 对接任何实现 Chat Completions 协议的服务（OpenAI、DeepSeek、Qwen、
// vLLM、Ollama 等），支持同步与 SSE 流式调用、工具调用。
// =============================================================================

package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// Config OpenAI 兼容 Provider 配置
type Config struct {
	// ProviderName 唯一标识，缺省 "openai-compatible"
	ProviderName string

	APIKey  string
	BaseURL string

	// DefaultModel 请求未指定模型时使用
	DefaultModel string

	// Timeout HTTP 超时，缺省 60s
	Timeout time.Duration

	// EndpointPath 缺省 "/v1/chat/completions"
	EndpointPath string

	// ModelsEndpoint 健康检查使用，缺省 "/v1/models"
	ModelsEndpoint string

	// BuildHeaders 自定义请求头；为空时使用 Bearer 认证
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider 实现 llm.Provider
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New 创建 Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.Cfg.ProviderName }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + path
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
		return
	}
	if p.Cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// HealthCheck 请求模型列表接口
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, upstreamError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = p.Cfg.DefaultModel
	}
	body := chatRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages),
		Tools:       toTools(req.Tools),
		ToolChoice:  toolChoice(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

func (p *Provider) post(ctx context.Context, req *llm.ChatRequest, stream bool) (*http.Response, error) {
	if req == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "nil request", Provider: p.Name()}
	}
	if req.Timeout > 0 && !stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(p.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.buildHeaders(httpReq)
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, upstreamError(p.Name(), err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return resp, nil
}

// Completion 同步聊天
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	started := time.Now()
	resp, err := p.post(ctx, req, false)
	if err != nil {
		p.Logger.Warn("completion failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, upstreamError(p.Name(), fmt.Errorf("decode response: %w", err))
	}
	out := toChatResponse(cr, p.Name())
	if cr.Created != 0 {
		out.CreatedAt = time.Unix(cr.Created, 0)
	}
	p.Logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(started)),
	)
	return out, nil
}

// Stream 流式聊天（SSE）
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// StreamSSE 解析 Chat Completions 的 SSE 流。
// 工具调用的参数分片按 index 累积，在 finish_reason 出现或流结束时作为一个完整的 chunk 发出。
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		pending := make(map[int]*toolCallBuilder)
		var lastID, lastModel string
		flush := func(index int, finish string) bool {
			if len(pending) == 0 && finish == "" {
				return true
			}
			chunk := llm.StreamChunk{
				ID:           lastID,
				Provider:     providerName,
				Model:        lastModel,
				Index:        index,
				FinishReason: finish,
				Delta:        llm.Message{Role: types.RoleAssistant, ToolCalls: drainToolCalls(pending)},
			}
			return send(chunk)
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64<<10), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				send(llm.StreamChunk{Err: upstreamError(providerName, fmt.Errorf("decode stream chunk: %w", err))})
				return
			}
			lastID, lastModel = cr.ID, cr.Model

			for _, choice := range cr.Choices {
				if choice.Delta != nil {
					for _, tc := range choice.Delta.ToolCalls {
						idx := len(pending)
						if tc.Index != nil {
							idx = *tc.Index
						}
						b := pending[idx]
						if b == nil {
							b = &toolCallBuilder{index: idx}
							pending[idx] = b
						}
						b.add(tc)
					}
					if choice.Delta.Content != "" {
						if !send(llm.StreamChunk{
							ID:       cr.ID,
							Provider: providerName,
							Model:    cr.Model,
							Index:    choice.Index,
							Delta:    llm.Message{Role: types.RoleAssistant, Content: choice.Delta.Content},
						}) {
							return
						}
					}
				}
				if choice.FinishReason != "" && !flush(choice.Index, choice.FinishReason) {
					return
				}
			}

			if cr.Usage != nil {
				usage := toUsage(*cr.Usage)
				if !send(llm.StreamChunk{ID: cr.ID, Provider: providerName, Model: cr.Model, Usage: &usage}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			send(llm.StreamChunk{Err: upstreamError(providerName, err)})
			return
		}
		flush(0, "")
	}()
	return ch
}

type toolCallBuilder struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (b *toolCallBuilder) add(tc toolCall) {
	if tc.ID != "" {
		b.id = tc.ID
	}
	if tc.Function.Name != "" {
		b.name = tc.Function.Name
	}
	b.args.WriteString(tc.Function.Arguments)
}

func drainToolCalls(pending map[int]*toolCallBuilder) []llm.ToolCall {
	if len(pending) == 0 {
		return nil
	}
	builders := make([]*toolCallBuilder, 0, len(pending))
	for idx, b := range pending {
		builders = append(builders, b)
		delete(pending, idx)
	}
	sort.Slice(builders, func(i, j int) bool { return builders[i].index < builders[j].index })

	out := make([]llm.ToolCall, 0, len(builders))
	for _, b := range builders {
		out = append(out, llm.ToolCall{ID: b.id, Name: b.name, Arguments: rawArguments(b.args.String())})
	}
	return out
}
