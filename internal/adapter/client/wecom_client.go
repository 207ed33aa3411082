package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go-wecom-callback/internal/wework"
)

// access_token 失效类错误码，收到后丢弃缓存并重试一次
const (
	errCodeInvalidCredential  = 40001
	errCodeInvalidAccessToken = 40014
	errCodeAccessTokenExpired = 42001
)

// TokenClient 调用 gettoken 接口，实现 wework.TokenFetcher
type TokenClient struct {
	baseURL    string
	corpID     string
	secret     string
	httpClient *http.Client
}

// NewTokenClient 创建账号的 gettoken 客户端
func NewTokenClient(baseURL string, account wework.Account, httpClient *http.Client) *TokenClient {
	return &TokenClient{
		baseURL:    baseURL,
		corpID:     account.CorpID,
		secret:     account.Secret,
		httpClient: httpClient,
	}
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// FetchToken GET <base>/gettoken?corpid=...&corpsecret=...
func (c *TokenClient) FetchToken(ctx context.Context) (*wework.IssuedToken, error) {
	q := url.Values{}
	q.Set("corpid", c.corpID)
	q.Set("corpsecret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/gettoken?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gettoken returned status %d", resp.StatusCode)
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.ErrCode != 0 {
		return nil, &wework.TokenFetchError{ErrCode: result.ErrCode, ErrMsg: result.ErrMsg}
	}

	return &wework.IssuedToken{
		AccessToken: result.AccessToken,
		ExpiresIn:   time.Duration(result.ExpiresIn) * time.Second,
	}, nil
}

// TokenSource 提供 access_token，由 wework.AccessTokenCache 实现
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// APIError 企业微信接口返回 errcode 非 0
type APIError struct {
	Op      string
	ErrCode int
	ErrMsg  string
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: errcode %d: %s", e.Op, e.ErrCode, e.ErrMsg)
}

// Recipient 消息接收方，三者至少填一个
type Recipient struct {
	ToUser  string
	ToParty string
	ToTag   string
}

// TextCard 文本卡片消息内容
type TextCard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	BtnText     string `json:"btntxt,omitempty"`
}

// APIClient 企业微信应用消息发送客户端
type APIClient struct {
	baseURL    string
	agentID    int64
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAPIClient 创建账号的发送客户端
func NewAPIClient(baseURL string, account wework.Account, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		agentID:    account.AgentID,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With("component", "wecom_api", "account", account.ID),
	}
}

type apiResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	MediaID string `json:"media_id"`
}

// SendText 发送文本消息
func (c *APIClient) SendText(ctx context.Context, to Recipient, content string) error {
	return c.sendMessage(ctx, "send text", to, "text", map[string]string{"content": content})
}

// SendMarkdown 发送 Markdown 消息
func (c *APIClient) SendMarkdown(ctx context.Context, to Recipient, content string) error {
	return c.sendMessage(ctx, "send markdown", to, "markdown", map[string]string{"content": content})
}

// SendImage 发送图片消息
func (c *APIClient) SendImage(ctx context.Context, to Recipient, mediaID string) error {
	return c.sendMessage(ctx, "send image", to, "image", map[string]string{"media_id": mediaID})
}

// SendFile 发送文件消息
func (c *APIClient) SendFile(ctx context.Context, to Recipient, mediaID string) error {
	return c.sendMessage(ctx, "send file", to, "file", map[string]string{"media_id": mediaID})
}

// SendTextCard 发送文本卡片消息，BtnText 为空时使用 "详情"
func (c *APIClient) SendTextCard(ctx context.Context, to Recipient, card TextCard) error {
	if card.BtnText == "" {
		card.BtnText = "详情"
	}
	return c.sendMessage(ctx, "send textcard", to, "textcard", card)
}

// UploadMedia 上传临时素材，返回 media_id
// mediaType 取值 image、voice、video、file
func (c *APIClient) UploadMedia(ctx context.Context, mediaType, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	result, err := c.call(ctx, "upload media", func(token string) (*http.Request, error) {
		q := url.Values{}
		q.Set("access_token", token)
		q.Set("type", mediaType)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/upload?"+q.Encode(), bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}
	return result.MediaID, nil
}

func (c *APIClient) sendMessage(ctx context.Context, op string, to Recipient, msgType string, content any) error {
	if to.ToUser == "" && to.ToParty == "" && to.ToTag == "" {
		return fmt.Errorf("%s: empty recipient", op)
	}

	payload := map[string]any{
		"msgtype": msgType,
		"agentid": c.agentID,
		msgType:   content,
	}
	if to.ToUser != "" {
		payload["touser"] = to.ToUser
	}
	if to.ToParty != "" {
		payload["toparty"] = to.ToParty
	}
	if to.ToTag != "" {
		payload["totag"] = to.ToTag
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	_, err = c.call(ctx, op, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/message/send?access_token="+url.QueryEscape(token), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return err
}

// call 获取 access_token 并执行请求；token 失效时丢弃缓存重试一次
func (c *APIClient) call(ctx context.Context, op string, build func(token string) (*http.Request, error)) (*apiResponse, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		req, err := build(token)
		if err != nil {
			return nil, fmt.Errorf("%s: create request: %w", op, err)
		}

		result, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		switch result.ErrCode {
		case 0:
			return result, nil
		case errCodeInvalidCredential, errCodeInvalidAccessToken, errCodeAccessTokenExpired:
			c.tokens.Invalidate()
			if attempt == 0 {
				c.logger.Warn("access token rejected, refreshing", "op", op, "errcode", result.ErrCode)
				continue
			}
		}
		return nil, &APIError{Op: op, ErrCode: result.ErrCode, ErrMsg: result.ErrMsg}
	}
}

func (c *APIClient) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
