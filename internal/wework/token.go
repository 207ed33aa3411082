package wework

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenTimeout 单次 gettoken 请求的默认超时
	DefaultTokenTimeout = 5 * time.Second

	// tokenReadMargin 读取时提前判定过期的余量
	tokenReadMargin = 60 * time.Second

	// tokenExpiryMargin 写入缓存时从 expires_in 中扣除的余量
	tokenExpiryMargin = 300 * time.Second
)

// IssuedToken gettoken 接口返回的凭证
type IssuedToken struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// TokenFetcher 向平台申请新的 access_token
type TokenFetcher interface {
	FetchToken(ctx context.Context) (*IssuedToken, error)
}

// CachedToken 缓存中的凭证，整体替换，不做部分更新
type CachedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenOption 配置 AccessTokenCache
type TokenOption func(*AccessTokenCache)

// WithTokenTimeout 设置单次刷新的超时时间
func WithTokenTimeout(d time.Duration) TokenOption {
	return func(c *AccessTokenCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock 替换时间来源，用于测试
func WithClock(now func() time.Time) TokenOption {
	return func(c *AccessTokenCache) {
		c.now = now
	}
}

// WithRefreshHook 每次实际请求 gettoken 后回调，err 为 nil 表示成功
func WithRefreshHook(hook func(accountID string, err error)) TokenOption {
	return func(c *AccessTokenCache) {
		c.onRefresh = hook
	}
}

// AccessTokenCache 单个账号的 access_token 缓存
// 缓存有效时读取无锁；刷新通过 singleflight 合并，同一时刻最多一个 gettoken 请求
type AccessTokenCache struct {
	accountID string
	fetcher   TokenFetcher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
	onRefresh func(accountID string, err error)

	current atomic.Pointer[CachedToken]
	group   singleflight.Group
}

// NewAccessTokenCache 创建账号的 access_token 缓存
func NewAccessTokenCache(accountID string, fetcher TokenFetcher, logger *slog.Logger, opts ...TokenOption) *AccessTokenCache {
	c := &AccessTokenCache{
		accountID: accountID,
		fetcher:   fetcher,
		logger:    logger.With("component", "token_cache", "account", accountID),
		timeout:   DefaultTokenTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token 返回未过期的 access_token，必要时同步刷新
func (c *AccessTokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.valid(); tok != nil {
		return tok.Value, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", &TokenFetchError{AccountID: c.accountID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*CachedToken).Value, nil
	}
}

// Invalidate 丢弃缓存的凭证，下次 Token 调用会重新获取
// 用于平台返回 access_token 失效类错误码时
func (c *AccessTokenCache) Invalidate() {
	c.current.Store(nil)
}

// Cached 返回当前缓存的凭证快照，可能已过期
func (c *AccessTokenCache) Cached() *CachedToken {
	return c.current.Load()
}

func (c *AccessTokenCache) valid() *CachedToken {
	tok := c.current.Load()
	if tok != nil && c.now().Before(tok.ExpiresAt.Add(-tokenReadMargin)) {
		return tok
	}
	return nil
}

// refresh 在 singleflight 内执行；先复查缓存，上一轮刷新可能刚刚完成
func (c *AccessTokenCache) refresh(ctx context.Context) (*CachedToken, error) {
	if tok := c.valid(); tok != nil {
		return tok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fetchedAt := c.now()
	issued, err := c.fetcher.FetchToken(ctx)
	if err == nil && issued.AccessToken == "" {
		err = errors.New("empty access_token in response")
	}
	if c.onRefresh != nil {
		c.onRefresh(c.accountID, err)
	}
	if err != nil {
		c.logger.Warn("access token refresh failed", "error", err)
		var fetchErr *TokenFetchError
		if errors.As(err, &fetchErr) {
			if fetchErr.AccountID == "" {
				fetchErr.AccountID = c.accountID
			}
			return nil, fetchErr
		}
		return nil, &TokenFetchError{AccountID: c.accountID, Err: err}
	}

	tok := &CachedToken{
		Value:     issued.AccessToken,
		ExpiresAt: fetchedAt.Add(issued.ExpiresIn - tokenExpiryMargin),
	}
	c.current.Store(tok)

	c.logger.Debug("access token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}
