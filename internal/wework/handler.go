package wework

import "context"

//go:generate mockgen -destination=mocks/mock_wework.go -package=mocks go-wecom-callback/internal/wework EventHandler,TokenFetcher

// EventHandler 接收验签、解密、解析成功后的回调消息
// 返回的错误只记录日志，不影响对平台的应答
type EventHandler interface {
	HandleEvent(ctx context.Context, accountID string, ev Event) error
}

// HandlerMux 按消息类型分发到对应的处理函数，未设置的类型直接忽略
type HandlerMux struct {
	OnText  func(ctx context.Context, accountID string, msg *TextMessage) error
	OnImage func(ctx context.Context, accountID string, msg *ImageMessage) error
	OnVoice func(ctx context.Context, accountID string, msg *VoiceMessage) error
	OnVideo func(ctx context.Context, accountID string, msg *VideoMessage) error
	OnFile  func(ctx context.Context, accountID string, msg *FileMessage) error
	OnEvent func(ctx context.Context, accountID string, ev *AppEvent) error
}

// HandleEvent 实现 EventHandler
func (m *HandlerMux) HandleEvent(ctx context.Context, accountID string, ev Event) error {
	switch e := ev.(type) {
	case *TextMessage:
		if m.OnText != nil {
			return m.OnText(ctx, accountID, e)
		}
	case *ImageMessage:
		if m.OnImage != nil {
			return m.OnImage(ctx, accountID, e)
		}
	case *VoiceMessage:
		if m.OnVoice != nil {
			return m.OnVoice(ctx, accountID, e)
		}
	case *VideoMessage:
		if m.OnVideo != nil {
			return m.OnVideo(ctx, accountID, e)
		}
	case *FileMessage:
		if m.OnFile != nil {
			return m.OnFile(ctx, accountID, e)
		}
	case *AppEvent:
		if m.OnEvent != nil {
			return m.OnEvent(ctx, accountID, e)
		}
	}
	return nil
}
