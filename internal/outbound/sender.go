package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go-wecom-callback/internal/adapter/client"
)

// 上传临时素材的类型
const (
	mediaTypeImage = "image"
	mediaTypeFile  = "file"
)

// API 发送回复用到的企业微信接口，由 client.APIClient 实现
type API interface {
	SendText(ctx context.Context, to client.Recipient, content string) error
	SendMarkdown(ctx context.Context, to client.Recipient, content string) error
	SendImage(ctx context.Context, to client.Recipient, mediaID string) error
	SendFile(ctx context.Context, to client.Recipient, mediaID string) error
	SendTextCard(ctx context.Context, to client.Recipient, card client.TextCard) error
	UploadMedia(ctx context.Context, mediaType, filename string, r io.Reader) (string, error)
}

// Media 待上传的媒体文件
type Media struct {
	FileName    string
	ContentType string
	Data        io.Reader
}

// Card 文本卡片
type Card struct {
	Title       string
	Description string
	URL         string
	BtnText     string
}

// Sender 向企业微信目标发送回复
type Sender struct {
	api    API
	logger *slog.Logger
}

// NewSender 创建 Sender
func NewSender(api API, logger *slog.Logger) *Sender {
	return &Sender{api: api, logger: logger.With("component", "sender")}
}

// Send 按换行切分为不超过 MaxMessageLength 的块，逐块转换为企业微信 Markdown 发送
func (s *Sender) Send(ctx context.Context, to, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("send requires text")
	}

	target, err := ParseTarget(to)
	if err != nil {
		return err
	}

	chunks := ChunkText(text, MaxMessageLength)
	for i, chunk := range chunks {
		content := ToWeComMarkdown(Truncate(chunk, MaxMessageLength))
		if err := s.api.SendMarkdown(ctx, target.Recipient(), content); err != nil {
			return fmt.Errorf("send to %s (chunk %d/%d): %w", target.Display(), i+1, len(chunks), err)
		}
	}

	s.logger.Debug("message sent", "target", target.Display(), "chunks", len(chunks))
	return nil
}

// SendMedia 上传媒体后发送图片或文件消息，caption 非空时随后以文本消息发送
// image/* 作为图片发送，其余类型作为文件发送
func (s *Sender) SendMedia(ctx context.Context, to string, media Media, caption string) error {
	if media.Data == nil {
		return errors.New("send media requires data")
	}

	target, err := ParseTarget(to)
	if err != nil {
		return err
	}
	rcpt := target.Recipient()

	mediaType := mediaTypeFor(media.ContentType)
	mediaID, err := s.api.UploadMedia(ctx, mediaType, mediaFileName(media), media.Data)
	if err != nil {
		return fmt.Errorf("upload media for %s: %w", target.Display(), err)
	}

	if mediaType == mediaTypeImage {
		err = s.api.SendImage(ctx, rcpt, mediaID)
	} else {
		err = s.api.SendFile(ctx, rcpt, mediaID)
	}
	if err != nil {
		return fmt.Errorf("send media to %s: %w", target.Display(), err)
	}

	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil
	}
	for _, chunk := range ChunkText(caption, MaxMessageLength) {
		if err := s.api.SendText(ctx, rcpt, chunk); err != nil {
			return fmt.Errorf("send caption to %s: %w", target.Display(), err)
		}
	}

	s.logger.Debug("media sent", "target", target.Display(), "media_type", mediaType)
	return nil
}

// SendCard 发送文本卡片消息
func (s *Sender) SendCard(ctx context.Context, to string, card Card) error {
	if card.Title == "" || card.URL == "" {
		return errors.New("send card requires title and url")
	}

	target, err := ParseTarget(to)
	if err != nil {
		return err
	}

	err = s.api.SendTextCard(ctx, target.Recipient(), client.TextCard{
		Title:       card.Title,
		Description: card.Description,
		URL:         card.URL,
		BtnText:     card.BtnText,
	})
	if err != nil {
		return fmt.Errorf("send card to %s: %w", target.Display(), err)
	}
	return nil
}

func mediaTypeFor(contentType string) string {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return mediaTypeImage
	}
	return mediaTypeFile
}

func mediaFileName(media Media) string {
	if media.FileName != "" {
		return media.FileName
	}
	if mediaTypeFor(media.ContentType) == mediaTypeImage {
		return "image"
	}
	return "file"
}
