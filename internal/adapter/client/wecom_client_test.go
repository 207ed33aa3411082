package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-wecom-callback/internal/wework"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testAccount = wework.Account{
	ID:      "default",
	CorpID:  "ww1234567890abcdef",
	Secret:  "s3cret",
	AgentID: 1000002,
}

// fakeTokens 固定返回 tokens 中的下一个值
type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	invalidated int
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := f.tokens[0]
	if len(f.tokens) > 1 {
		f.tokens = f.tokens[1:]
	}
	return tok, nil
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func TestTokenClient_FetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gettoken", r.URL.Path)
		assert.Equal(t, "ww1234567890abcdef", r.URL.Query().Get("corpid"))
		assert.Equal(t, "s3cret", r.URL.Query().Get("corpsecret"))
		w.Write([]byte(`{"errcode":0,"errmsg":"ok","access_token":"ACCESS","expires_in":7200}`))
	}))
	defer srv.Close()

	c := NewTokenClient(srv.URL, testAccount, srv.Client())
	tok, err := c.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ACCESS", tok.AccessToken)
	assert.Equal(t, 7200*time.Second, tok.ExpiresIn)
}

func TestTokenClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errCode int
	}{
		{"errcode", http.StatusOK, `{"errcode":40013,"errmsg":"invalid corpid"}`, 40013},
		{"status", http.StatusBadGateway, ``, 0},
		{"bad json", http.StatusOK, `{`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTokenClient(srv.URL, testAccount, srv.Client()).FetchToken(context.Background())
			require.Error(t, err)

			var fetchErr *wework.TokenFetchError
			if tt.errCode != 0 {
				require.True(t, errors.As(err, &fetchErr))
				assert.Equal(t, tt.errCode, fetchErr.ErrCode)
			} else {
				assert.False(t, errors.As(err, &fetchErr))
			}
		})
	}
}

func TestTokenClient_WithAccessTokenCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"errcode":0,"access_token":"ACCESS","expires_in":7200}`))
	}))
	defer srv.Close()

	cache := wework.NewAccessTokenCache("default", NewTokenClient(srv.URL, testAccount, srv.Client()), testLogger)
	for i := 0; i < 3; i++ {
		tok, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ACCESS", tok)
	}
	assert.Equal(t, 1, calls)
}

func TestAPIClient_SendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/send", r.URL.Path)
		assert.Equal(t, "TOKEN", r.URL.Query().Get("access_token"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "zhangsan", payload["touser"])
		assert.Equal(t, "text", payload["msgtype"])
		assert.Equal(t, float64(1000002), payload["agentid"])
		assert.Equal(t, map[string]any{"content": "hello"}, payload["text"])

		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, testAccount, &fakeTokens{tokens: []string{"TOKEN"}}, srv.Client(), testLogger)
	require.NoError(t, c.SendText(context.Background(), Recipient{ToUser: "zhangsan"}, "hello"))
}

func TestAPIClient_SendTextCardDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ToParty  string   `json:"toparty"`
			TextCard TextCard `json:"textcard"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "2", payload.ToParty)
		assert.Equal(t, "详情", payload.TextCard.BtnText)
		w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, testAccount, &fakeTokens{tokens: []string{"TOKEN"}}, srv.Client(), testLogger)
	err := c.SendTextCard(context.Background(), Recipient{ToParty: "2"}, TextCard{Title: "t", Description: "d", URL: "https://example.com"})
	require.NoError(t, err)
}

func TestAPIClient_RetriesOnExpiredToken(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("access_token")
		seen = append(seen, tok)
		if tok == "OLD" {
			w.Write([]byte(`{"errcode":42001,"errmsg":"access_token expired"}`))
			return
		}
		w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"OLD", "NEW"}}
	c := NewAPIClient(srv.URL, testAccount, tokens, srv.Client(), testLogger)
	require.NoError(t, c.SendMarkdown(context.Background(), Recipient{ToUser: "u"}, "*hi*"))

	assert.Equal(t, []string{"OLD", "NEW"}, seen)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestAPIClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":81013,"errmsg":"user & party & tag all invalid"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, testAccount, &fakeTokens{tokens: []string{"TOKEN"}}, srv.Client(), testLogger)
	err := c.SendImage(context.Background(), Recipient{ToTag: "1"}, "media")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 81013, apiErr.ErrCode)

	assert.Error(t, c.SendFile(context.Background(), Recipient{}, "media"), "empty recipient")
}

func TestAPIClient_UploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/upload", r.URL.Path)
		assert.Equal(t, "file", r.URL.Query().Get("type"))

		f, hdr, err := r.FormFile("media")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.txt", hdr.Filename)
		assert.Equal(t, "contents", string(data))

		w.Write([]byte(`{"errcode":0,"type":"file","media_id":"MEDIA_ID","created_at":"1380000000"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, testAccount, &fakeTokens{tokens: []string{"TOKEN"}}, srv.Client(), testLogger)
	mediaID, err := c.UploadMedia(context.Background(), "file", "report.txt", strings.NewReader("contents"))
	require.NoError(t, err)
	assert.Equal(t, "MEDIA_ID", mediaID)
}
