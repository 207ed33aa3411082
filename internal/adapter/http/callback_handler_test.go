package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wecom-callback/internal/wework"
)

const (
	testToken          = "test_token"
	testEncodingAESKey = "kWxPEV2UEDyw2Q9QY5zJFLYlSv6oW1E3hT6Y5R9gZ8w"
	testCorpID         = "ww1234567890abcdef"
	testTimestamp      = "1234567890"
	testNonce          = "nonce123"
	testPath           = "/wecom/webhook"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type observation struct {
	account, kind, result string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (f *fakeRecorder) ObserveCallback(account, kind, result string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, observation{account, kind, result})
}

type testEnv struct {
	router   http.Handler
	cipher   wework.EnvelopeCipher
	recorder *fakeRecorder
	events   chan wework.Event
}

func newTestEnv(t *testing.T, maxBody int64) *testEnv {
	t.Helper()
	cipher, err := wework.NewEnvelopeCipher(testEncodingAESKey, testCorpID)
	require.NoError(t, err)

	events := make(chan wework.Event, 1)
	mux := &wework.HandlerMux{
		OnText: func(ctx context.Context, accountID string, msg *wework.TextMessage) error {
			events <- msg
			return nil
		},
	}
	account := wework.Account{ID: "default", CorpID: testCorpID, Token: testToken, EncodingAESKey: testEncodingAESKey}
	svc := wework.NewService(account, cipher, mux, testLogger)

	recorder := &fakeRecorder{}
	router := NewRouter(RouterConfig{
		ServiceName: "wecom-webhook",
		Endpoints: []Endpoint{{
			Path:    testPath,
			Handler: NewCallbackHandler("default", svc, recorder, maxBody, testLogger),
		}},
		MetricsPath: "/metrics",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	}, testLogger)

	return &testEnv{router: router, cipher: cipher, recorder: recorder, events: events}
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(method, target, bytes.NewReader(body)))
	return rec
}

func verifyTarget(signature, timestamp, nonce, echostr string) string {
	q := url.Values{}
	q.Set("msg_signature", signature)
	q.Set("timestamp", timestamp)
	q.Set("nonce", nonce)
	q.Set("echostr", echostr)
	return testPath + "?" + q.Encode()
}

func TestVerifyURL_EndToEnd(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	echostr, err := env.cipher.Encrypt([]byte("echostr"))
	require.NoError(t, err)
	sig := wework.Sign(testToken, testTimestamp, testNonce, echostr)

	rec := env.do(http.MethodGet, verifyTarget(sig, testTimestamp, testNonce, echostr), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echostr", rec.Body.String())

	// 改动任一参数而不重新签名
	tests := []struct {
		name                      string
		timestamp, nonce, echostr string
	}{
		{"timestamp", "1234567891", testNonce, echostr},
		{"nonce", testTimestamp, "nonce124", echostr},
		{"echostr", testTimestamp, testNonce, echostr[:len(echostr)-4] + "AAA="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, verifyTarget(sig, tt.timestamp, tt.nonce, tt.echostr), nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestVerifyURL_StatusMapping(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	other, err := wework.NewEnvelopeCipher(testEncodingAESKey, "wwother")
	require.NoError(t, err)
	foreign, err := other.Encrypt([]byte("echostr"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		want   int
		result string
	}{
		{"missing params", testPath, http.StatusBadRequest, resultMalformed},
		{"bad timestamp", verifyTarget("sig", "abc", testNonce, "x"), http.StatusBadRequest, resultMalformed},
		{"bad signature", verifyTarget("deadbeef", testTimestamp, testNonce, "x"), http.StatusForbidden, resultInvalidSignature},
		{"corp mismatch", verifyTarget(wework.Sign(testToken, testTimestamp, testNonce, foreign), testTimestamp, testNonce, foreign), http.StatusBadRequest, resultDecryptError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.recorder.obs = nil
			rec := env.do(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.want, rec.Code)
			require.Len(t, env.recorder.obs, 1)
			assert.Equal(t, observation{"default", "verify", tt.result}, env.recorder.obs[0])
		})
	}
}

func TestCallback_EndToEnd(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	enc, err := env.cipher.Encrypt([]byte(`{"ToUserName":"x","FromUserName":"zhangsan","MsgType":"text","Content":"hi","AgentID":1,"CreateTime":1}`))
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"Encrypt": enc})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, testPath+"?timestamp=1&nonce=n&msg_signature=s", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wework.AckSuccess, rec.Body.String())

	select {
	case ev := <-env.events:
		msg, ok := ev.(*wework.TextMessage)
		require.True(t, ok)
		assert.Equal(t, wework.MsgTypeText, msg.MsgType)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "zhangsan", msg.FromUserName)
	default:
		t.Fatal("handler was not called")
	}
	assert.Equal(t, []observation{{"default", "delivery", resultOK}}, env.recorder.obs)
}

func TestCallback_FailuresAnswer500(t *testing.T) {
	env := newTestEnv(t, 256)

	other, err := wework.NewEnvelopeCipher(testEncodingAESKey, "wwother")
	require.NoError(t, err)
	foreign, err := other.Encrypt([]byte(`{"MsgType":"text"}`))
	require.NoError(t, err)

	tests := []struct {
		name   string
		body   string
		result string
	}{
		{"not json", `not json`, resultMalformed},
		{"missing encrypt", `{}`, resultMalformed},
		{"decrypt error", `{"Encrypt":"` + foreign + `"}`, resultDecryptError},
		{"too large", `{"Encrypt":"` + strings.Repeat("A", 512) + `"}`, resultTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.recorder.obs = nil
			rec := env.do(http.MethodPost, testPath, []byte(tt.body))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.NotEqual(t, wework.AckSuccess, rec.Body.String())
			require.Len(t, env.recorder.obs, 1)
			assert.Equal(t, tt.result, env.recorder.obs[0].result)
		})
	}
}

func TestCallback_DeliverySignatureMismatchAnswers500(t *testing.T) {
	cipher, err := wework.NewEnvelopeCipher(testEncodingAESKey, testCorpID)
	require.NoError(t, err)
	account := wework.Account{ID: "default", CorpID: testCorpID, Token: testToken, EncodingAESKey: testEncodingAESKey}
	svc := wework.NewService(account, cipher, &wework.HandlerMux{}, testLogger, wework.WithDeliverySignatureCheck(true))
	recorder := &fakeRecorder{}
	h := NewCallbackHandler("default", svc, recorder, 1<<20, testLogger)

	enc, err := cipher.Encrypt([]byte(`{"MsgType":"text","Content":"hi"}`))
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"Encrypt": enc})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	target := testPath + "?msg_signature=deadbeef&timestamp=" + testTimestamp + "&nonce=" + testNonce
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []observation{{"default", "delivery", resultInvalidSignature}}, recorder.obs)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rec := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"wecom-webhook"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPut, testPath, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(http.MethodGet, "/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
