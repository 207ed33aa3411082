package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCallback("default", KindDelivery, "ok", 10*time.Millisecond)
	m.ObserveCallback("default", KindDelivery, "ok", 5*time.Millisecond)
	m.ObserveCallback("default", KindVerify, "invalid_signature", time.Millisecond)
	m.ObserveTokenRefresh("default", nil)
	m.ObserveTokenRefresh("default", errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.callbacks.WithLabelValues("default", KindDelivery, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("default", KindVerify, "invalid_signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("default", "error")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTokenRefresh("sales", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `wecom_access_token_refreshes_total{account="sales",result="ok"} 1`)
}
