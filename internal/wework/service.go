package wework

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// AckSuccess 消息回调成功后返回给平台的固定应答
const AckSuccess = "success"

// Service 企业微信回调协议接口
type Service interface {
	// VerifyURL 处理 GET 请求的 URL 验证，返回解密后的 echostr
	VerifyURL(ctx context.Context, q CallbackQuery) (string, error)

	// HandleCallback 处理 POST 请求的消息回调
	HandleCallback(ctx context.Context, q CallbackQuery, body []byte) error

	// EncryptReply 加密被动回复并生成签名
	EncryptReply(payload []byte, timestamp, nonce string) (*EncryptedReply, error)
}

// EncryptedReply 加密回复包
type EncryptedReply struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// Option 配置 Service
type Option func(*serviceImpl)

// WithDeliverySignatureCheck 开启后 POST 回调也校验 msg_signature
// 平台参考实现在投递时不校验，默认关闭以保持兼容
func WithDeliverySignatureCheck(enabled bool) Option {
	return func(s *serviceImpl) {
		s.verifyDelivery = enabled
	}
}

// serviceImpl Service 接口的实现
type serviceImpl struct {
	account        Account
	cipher         EnvelopeCipher
	handler        EventHandler
	logger         *slog.Logger
	verifyDelivery bool
}

// NewService 创建账号对应的回调协议服务
func NewService(account Account, cipher EnvelopeCipher, handler EventHandler, logger *slog.Logger, opts ...Option) Service {
	s := &serviceImpl{
		account: account,
		cipher:  cipher,
		handler: handler,
		logger:  logger.With("account", account.ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyURL 处理企业微信 URL 验证请求
// 1. 校验参数 2. 验证签名 3. 解密 echostr 4. 返回明文
func (s *serviceImpl) VerifyURL(ctx context.Context, q CallbackQuery) (string, error) {
	if q.MsgSignature == "" || q.Nonce == "" || q.Echostr == "" {
		return "", fmt.Errorf("%w: msg_signature, nonce and echostr are required", ErrMalformedRequest)
	}
	if err := validateTimestamp(q.Timestamp); err != nil {
		return "", err
	}

	if !VerifySignature(q.MsgSignature, s.account.Token, q.Timestamp, q.Nonce, q.Echostr) {
		return "", ErrInvalidSignature
	}

	plaintext, err := s.cipher.Decrypt(q.Echostr)
	if err != nil {
		return "", fmt.Errorf("decrypt echostr: %w", err)
	}

	return string(plaintext), nil
}

// HandleCallback 处理企业微信消息回调
// 1. 解析加密消息体 2. 可选验证签名 3. 解密 4. 解析明文 5. 按类型分发
func (s *serviceImpl) HandleCallback(ctx context.Context, q CallbackQuery, body []byte) error {
	encBody, err := parseEncryptedBody(body)
	if err != nil {
		return err
	}

	if s.verifyDelivery {
		if err := validateTimestamp(q.Timestamp); err != nil {
			return err
		}
		if !VerifySignature(q.MsgSignature, s.account.Token, q.Timestamp, q.Nonce, encBody.Encrypt) {
			s.logger.Warn("signature verification failed",
				"timestamp", q.Timestamp,
				"nonce", q.Nonce,
			)
			return ErrInvalidSignature
		}
	}

	plaintext, err := s.cipher.Decrypt(encBody.Encrypt)
	if err != nil {
		s.logger.Error("failed to decrypt message", "error", err)
		return fmt.Errorf("decrypt message: %w", err)
	}

	ev, err := ParseEvent(plaintext)
	if err != nil {
		if errors.Is(err, ErrUnknownMsgType) {
			s.logger.Info("dropping message with unhandled type", "error", err)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	h := ev.Header()
	s.logger.Debug("message received",
		"msg_type", h.MsgType,
		"msg_id", h.MsgID,
		"from_user", h.FromUserName,
	)

	if err := s.handler.HandleEvent(ctx, s.account.ID, ev); err != nil {
		s.logger.Error("event handler failed",
			"msg_type", h.MsgType,
			"msg_id", h.MsgID,
			"error", err,
		)
	}

	return nil
}

// EncryptReply 加密回复明文，并用 token、timestamp、nonce、密文生成签名
func (s *serviceImpl) EncryptReply(payload []byte, timestamp, nonce string) (*EncryptedReply, error) {
	encrypted, err := s.cipher.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	return &EncryptedReply{
		Encrypt:      encrypted,
		MsgSignature: Sign(s.account.Token, timestamp, nonce, encrypted),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

// parseEncryptedBody 解析 JSON 或 XML 格式的加密消息体
func parseEncryptedBody(body []byte) (*EncryptedBody, error) {
	var encBody EncryptedBody
	if isXML(body) {
		if err := xml.Unmarshal(body, &encBody); err != nil {
			return nil, fmt.Errorf("%w: unmarshal encrypted body: %v", ErrMalformedRequest, err)
		}
	} else {
		if err := json.Unmarshal(body, &encBody); err != nil {
			return nil, fmt.Errorf("%w: unmarshal encrypted body: %v", ErrMalformedRequest, err)
		}
	}
	if encBody.Encrypt == "" {
		return nil, fmt.Errorf("%w: missing Encrypt field", ErrMalformedRequest)
	}
	return &encBody, nil
}

func validateTimestamp(ts string) error {
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return fmt.Errorf("%w: timestamp must be a decimal integer", ErrMalformedRequest)
	}
	return nil
}
