// Package metrics 回调与 access_token 刷新的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 回调类型
const (
	KindVerify   = "verify"
	KindDelivery = "delivery"
)

// Metrics 持有全部指标，registry 由调用方提供
type Metrics struct {
	gatherer        prometheus.Gatherer
	callbacks       *prometheus.CounterVec
	callbackLatency *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
}

// New 在 reg 上注册指标
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		callbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecom_callbacks_total",
				Help: "Total number of WeCom callbacks by account, kind and result.",
			},
			[]string{"account", "kind", "result"},
		),
		callbackLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wecom_callback_duration_seconds",
				Help:    "WeCom callback handling duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"account", "kind"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecom_access_token_refreshes_total",
				Help: "Total number of access token fetches by account and result.",
			},
			[]string{"account", "result"},
		),
	}
}

// ObserveCallback 记录一次回调处理，result 为 ok 或错误类别
func (m *Metrics) ObserveCallback(account, kind, result string, d time.Duration) {
	m.callbacks.WithLabelValues(account, kind, result).Inc()
	m.callbackLatency.WithLabelValues(account, kind).Observe(d.Seconds())
}

// ObserveTokenRefresh 签名与 wework.WithRefreshHook 一致
func (m *Metrics) ObserveTokenRefresh(account string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshes.WithLabelValues(account, result).Inc()
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
