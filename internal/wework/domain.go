package wework

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// Account 单个企业微信应用的凭证，解析后不可变
type Account struct {
	ID             string
	CorpID         string
	Secret         string
	AgentID        int64
	Token          string
	EncodingAESKey string // 43 字符，无 "=" 填充
}

// CallbackQuery 回调请求的 URL 查询参数
type CallbackQuery struct {
	MsgSignature string
	Timestamp    string
	Nonce        string
	Echostr      string // 仅 GET 验证时使用
}

// EncryptedBody POST 请求的加密消息体，JSON 与 XML 两种格式共用
type EncryptedBody struct {
	XMLName    xml.Name `xml:"xml" json:"-"`
	ToUserName string   `xml:"ToUserName" json:"ToUserName,omitempty"`
	AgentID    string   `xml:"AgentID" json:"-"`
	Encrypt    string   `xml:"Encrypt" json:"Encrypt"`
}

var (
	// ErrInvalidSignature 签名验证失败
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformedRequest 缺少或无法解析必需字段
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUnknownMsgType 无法识别的 MsgType
	ErrUnknownMsgType = errors.New("unknown msg type")
)

// DecryptError 解密失败：Base64 非法、AES 失败、帧格式错误或 CorpID 不匹配
type DecryptError struct {
	Reason string
	Err    error
}

// Error 实现 error 接口
func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
	}
	return "decrypt: " + e.Reason
}

// Unwrap 返回导致解密失败的底层错误
func (e *DecryptError) Unwrap() error { return e.Err }

// EncryptError 加密失败
type EncryptError struct {
	Reason string
	Err    error
}

// Error 实现 error 接口
func (e *EncryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encrypt: %s: %v", e.Reason, e.Err)
	}
	return "encrypt: " + e.Reason
}

// Unwrap 返回导致加密失败的底层错误
func (e *EncryptError) Unwrap() error { return e.Err }

// TokenFetchError 获取 access_token 失败：网络错误、超时或 errcode 非 0
type TokenFetchError struct {
	AccountID string
	ErrCode   int
	ErrMsg    string
	Err       error
}

// Error 实现 error 接口
func (e *TokenFetchError) Error() string {
	switch {
	case e.ErrCode != 0:
		return fmt.Sprintf("fetch access token for %s: errcode %d: %s", e.AccountID, e.ErrCode, e.ErrMsg)
	case e.Err != nil:
		return fmt.Sprintf("fetch access token for %s: %v", e.AccountID, e.Err)
	default:
		return fmt.Sprintf("fetch access token for %s", e.AccountID)
	}
}

// Unwrap 返回导致获取 access_token 失败的底层错误
func (e *TokenFetchError) Unwrap() error { return e.Err }
