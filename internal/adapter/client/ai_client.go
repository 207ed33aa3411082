package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-wecom-callback/internal/ai"
	"go-wecom-callback/internal/shared"
)

// errNonRetryable 4xx 响应，重试没有意义
var errNonRetryable = errors.New("non-retryable response")

// AIClient AI 助手 HTTP 客户端
type AIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      int
	backoff    time.Duration
}

// NewAIClient 创建 AI HTTP 客户端
func NewAIClient(cfg shared.AIConfig, logger *slog.Logger) *AIClient {
	return &AIClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger.With("component", "ai_client"),
		retry:   cfg.Retry,
		backoff: 500 * time.Millisecond,
	}
}

// SendMessage 实现 ai.Service 接口，将消息发送给 AI 助手
func (c *AIClient) SendMessage(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	attempts := c.retry + 1

	for i := 0; i < attempts; i++ {
		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, errNonRetryable) {
			break
		}

		if i < c.retry {
			delay := c.backoff << uint(i) // 500ms, 1s, 2s, ...
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.logger.Error("AI request failed",
		"account", req.AccountID,
		"user_id", req.UserID,
		"error", lastErr,
	)
	return nil, fmt.Errorf("send message to AI: %w", lastErr)
}

// doRequest 执行单次 HTTP POST 请求
func (c *AIClient) doRequest(ctx context.Context, body []byte) (*ai.ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d: %s", errNonRetryable, resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ai.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &chatResp, nil
}
