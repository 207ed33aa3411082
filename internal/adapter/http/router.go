package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Endpoint 一个账号的回调路径
type Endpoint struct {
	Path    string
	Handler *CallbackHandler
}

// RouterConfig 路由配置
type RouterConfig struct {
	ServiceName string
	Endpoints   []Endpoint
	// MetricsPath 为空时不挂载指标
	MetricsPath    string
	MetricsHandler http.Handler
}

// NewRouter 注册健康检查、指标和各账号的 GET/POST 回调路由
func NewRouter(cfg RouterConfig, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", NewHealthHandler(cfg.ServiceName))
	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}

	// CallbackHandler 自行区分 GET/POST，其他方法返回 405
	for _, ep := range cfg.Endpoints {
		r.Handle(ep.Path, ep.Handler)
	}

	return r
}

// requestLogger 记录请求摘要，不记录查询参数和请求体
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
