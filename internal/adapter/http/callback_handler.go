package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-wecom-callback/internal/metrics"
	"go-wecom-callback/internal/wework"
)

// CallbackRecorder 记录回调结果，由 metrics.Metrics 实现
type CallbackRecorder interface {
	ObserveCallback(account, kind, result string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCallback(string, string, string, time.Duration) {}

// 回调结果标签
const (
	resultOK               = "ok"
	resultMalformed        = "malformed"
	resultInvalidSignature = "invalid_signature"
	resultDecryptError     = "decrypt_error"
	resultTooLarge         = "too_large"
	resultError            = "error"
)

// CallbackHandler 单个账号的企业微信回调 HTTP 处理器
type CallbackHandler struct {
	accountID    string
	svc          wework.Service
	recorder     CallbackRecorder
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewCallbackHandler 创建回调处理器实例，recorder 可为 nil
func NewCallbackHandler(accountID string, svc wework.Service, recorder CallbackRecorder, maxBodyBytes int64, logger *slog.Logger) *CallbackHandler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CallbackHandler{
		accountID:    accountID,
		svc:          svc,
		recorder:     recorder,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("account", accountID),
	}
}

// ServeHTTP 统一处理 GET（URL 验证）和 POST（消息回调）请求
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.VerifyURL(w, r)
	case http.MethodPost:
		h.Callback(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// VerifyURL 处理 GET 请求的 URL 验证，成功时原样返回 echostr 明文
func (h *CallbackHandler) VerifyURL(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := callbackQuery(r)
	q.Echostr = r.URL.Query().Get("echostr")

	plaintext, err := h.svc.VerifyURL(r.Context(), q)
	if err != nil {
		status, result := classifyVerify(err)
		h.logFailure("URL verification failed", q, status, result, err)
		h.recorder.ObserveCallback(h.accountID, metrics.KindVerify, result, time.Since(start))
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.recorder.ObserveCallback(h.accountID, metrics.KindVerify, resultOK, time.Since(start))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(plaintext))
}

// Callback 处理 POST 请求的消息回调
func (h *CallbackHandler) Callback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := callbackQuery(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("callback body too large", "limit", maxErr.Limit)
			h.recorder.ObserveCallback(h.accountID, metrics.KindDelivery, resultTooLarge, time.Since(start))
			http.Error(w, "payload too large", http.StatusInternalServerError)
			return
		}
		h.logger.Error("failed to read request body", "error", err)
		h.recorder.ObserveCallback(h.accountID, metrics.KindDelivery, resultError, time.Since(start))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.svc.HandleCallback(r.Context(), q, body); err != nil {
		status, result := http.StatusInternalServerError, classifyResult(err)
		h.logFailure("callback processing failed", q, status, result, err)
		h.recorder.ObserveCallback(h.accountID, metrics.KindDelivery, result, time.Since(start))
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.recorder.ObserveCallback(h.accountID, metrics.KindDelivery, resultOK, time.Since(start))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(wework.AckSuccess))
}

// classifyVerify 将 URL 验证错误映射为 HTTP 状态码和指标标签
func classifyVerify(err error) (int, string) {
	result := classifyResult(err)
	switch result {
	case resultMalformed, resultDecryptError:
		return http.StatusBadRequest, result
	case resultInvalidSignature:
		return http.StatusForbidden, result
	default:
		return http.StatusInternalServerError, result
	}
}

// classifyResult 返回错误对应的指标标签
// 消息回调失败一律应答 500，标签只用于区分原因
func classifyResult(err error) string {
	var decErr *wework.DecryptError
	switch {
	case errors.Is(err, wework.ErrMalformedRequest):
		return resultMalformed
	case errors.Is(err, wework.ErrInvalidSignature):
		return resultInvalidSignature
	case errors.As(err, &decErr):
		return resultDecryptError
	default:
		return resultError
	}
}

// logFailure 请求方原因（格式错误、签名错误）记 Warn，其余记 Error
func (h *CallbackHandler) logFailure(msg string, q wework.CallbackQuery, status int, result string, err error) {
	if result != resultMalformed && result != resultInvalidSignature {
		h.logger.Error(msg, "status", status, "error", err)
		return
	}
	h.logger.Warn(msg,
		"status", status,
		"timestamp", q.Timestamp,
		"nonce", q.Nonce,
		"error", err,
	)
}

func callbackQuery(r *http.Request) wework.CallbackQuery {
	values := r.URL.Query()
	return wework.CallbackQuery{
		MsgSignature: values.Get("msg_signature"),
		Timestamp:    values.Get("timestamp"),
		Nonce:        values.Get("nonce"),
	}
}
