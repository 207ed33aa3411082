// Package bot 把回调消息转发给 AI 助手，并把回复发回给发送者
package bot

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"go-wecom-callback/internal/ai"
	"go-wecom-callback/internal/outbound"
	"go-wecom-callback/internal/wework"
)

// source 转发给 AI 助手时的来源标识
const source = "wecom"

// Replier 向目标发送回复，由 outbound.Sender 实现
type Replier interface {
	Send(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, media outbound.Media, caption string) error
	SendCard(ctx context.Context, to string, card outbound.Card) error
}

// Router 单个账号的消息路由
type Router struct {
	allowFrom map[string]struct{}
	aiSvc     ai.Service
	replier   Replier
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewRouter 创建路由，allowFrom 为空时接受所有发送者
func NewRouter(allowFrom []string, aiSvc ai.Service, replier Replier, logger *slog.Logger) *Router {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &Router{
		allowFrom: allowed,
		aiSvc:     aiSvc,
		replier:   replier,
		logger:    logger.With("component", "bot"),
	}
}

// Handler 返回交给 wework.NewService 的分发器
func (r *Router) Handler() *wework.HandlerMux {
	return &wework.HandlerMux{
		OnText:  r.onText,
		OnImage: r.onImage,
		OnVoice: r.onVoice,
		OnVideo: r.onVideo,
		OnFile:  r.onFile,
		OnEvent: r.onEvent,
	}
}

// Wait 等待进行中的转发结束
func (r *Router) Wait() {
	r.wg.Wait()
}

// Allowed 判断发送者是否在白名单内
func (r *Router) Allowed(userID string) bool {
	if len(r.allowFrom) == 0 {
		return true
	}
	_, ok := r.allowFrom[userID]
	return ok
}

func (r *Router) onText(ctx context.Context, accountID string, msg *wework.TextMessage) error {
	if !outbound.LooksLikeUserID(msg.FromUserName) {
		r.logger.Warn("sender is not a valid user id, ignoring",
			"account", accountID,
			"from_user", msg.FromUserName,
		)
		return nil
	}
	if !r.Allowed(msg.FromUserName) {
		r.logger.Info("sender not in allow list, ignoring",
			"account", accountID,
			"from_user", msg.FromUserName,
		)
		return nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	req := ai.ChatRequest{
		AccountID: accountID,
		UserID:    msg.FromUserName,
		MsgID:     msg.MsgID,
		Content:   content,
		Source:    source,
	}

	// 回调应答不等待 AI 回复
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.forwardToAI(context.WithoutCancel(ctx), req)
	}()
	return nil
}

// forwardToAI 转发给 AI 助手，有回复时发回给发送者
func (r *Router) forwardToAI(ctx context.Context, req ai.ChatRequest) {
	resp, err := r.aiSvc.SendMessage(ctx, req)
	if err != nil {
		r.logger.Error("failed to forward message to AI",
			"account", req.AccountID,
			"user_id", req.UserID,
			"error", err,
		)
		return
	}

	r.logger.Info("message forwarded to AI",
		"account", req.AccountID,
		"msg_id", req.MsgID,
		"from_user", req.UserID,
	)

	if err := r.reply(ctx, "user:"+req.UserID, resp); err != nil {
		r.logger.Error("failed to send reply",
			"account", req.AccountID,
			"user_id", req.UserID,
			"error", err,
		)
	}
}

// reply 按响应内容选择附件、卡片或文本回复
func (r *Router) reply(ctx context.Context, to string, resp *ai.ChatResponse) error {
	text := strings.TrimSpace(resp.Reply)

	switch {
	case resp.Attachment != nil:
		return r.replier.SendMedia(ctx, to, outbound.Media{
			FileName:    resp.Attachment.FileName,
			ContentType: resp.Attachment.ContentType,
			Data:        bytes.NewReader(resp.Attachment.Data),
		}, text)
	case resp.Card != nil:
		if err := r.replier.SendCard(ctx, to, outbound.Card{
			Title:       resp.Card.Title,
			Description: resp.Card.Description,
			URL:         resp.Card.URL,
			BtnText:     resp.Card.BtnText,
		}); err != nil {
			return err
		}
	}

	if text == "" {
		return nil
	}
	return r.replier.Send(ctx, to, text)
}

func (r *Router) onImage(ctx context.Context, accountID string, msg *wework.ImageMessage) error {
	r.logger.Info("image message received", "account", accountID, "from_user", msg.FromUserName, "media_id", msg.MediaID)
	return nil
}

func (r *Router) onVoice(ctx context.Context, accountID string, msg *wework.VoiceMessage) error {
	r.logger.Info("voice message received", "account", accountID, "from_user", msg.FromUserName, "media_id", msg.MediaID)
	return nil
}

func (r *Router) onVideo(ctx context.Context, accountID string, msg *wework.VideoMessage) error {
	r.logger.Info("video message received", "account", accountID, "from_user", msg.FromUserName, "media_id", msg.MediaID)
	return nil
}

func (r *Router) onFile(ctx context.Context, accountID string, msg *wework.FileMessage) error {
	r.logger.Info("file message received",
		"account", accountID,
		"from_user", msg.FromUserName,
		"title", msg.Title,
		"file_ext", msg.FileExt,
	)
	return nil
}

func (r *Router) onEvent(ctx context.Context, accountID string, ev *wework.AppEvent) error {
	r.logger.Info("event received",
		"account", accountID,
		"from_user", ev.FromUserName,
		"event", ev.Event,
		"event_key", ev.EventKey,
	)
	return nil
}
