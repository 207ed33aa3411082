package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-wecom-callback/internal/adapter/client"
	handler "go-wecom-callback/internal/adapter/http"
	"go-wecom-callback/internal/bot"
	"go-wecom-callback/internal/metrics"
	"go-wecom-callback/internal/outbound"
	"go-wecom-callback/internal/shared"
	"go-wecom-callback/internal/wework"
)

// ServiceName 健康检查中报告的服务名
const ServiceName = "wecom-webhook"

const shutdownTimeout = 10 * time.Second

// App 应用程序，组装所有组件
type App struct {
	server  *http.Server
	routers []*bot.Router
	logger  *slog.Logger
}

// NewApp 初始化应用：slog logger → 指标 → AIClient → 每个账号的
// Cipher、AccessTokenCache、APIClient、Sender、bot.Router、wework.Service → HTTP 路由
func NewApp(cfg *shared.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	var (
		m        *metrics.Metrics
		recorder handler.CallbackRecorder
	)
	routerCfg := handler.RouterConfig{ServiceName: ServiceName}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		recorder = m
		routerCfg.MetricsPath = cfg.Metrics.Path
		routerCfg.MetricsHandler = m.Handler()
	}

	aiClient := client.NewAIClient(cfg.AI, logger)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	app := &App{logger: logger}
	for _, id := range cfg.EnabledAccountIDs() {
		account, err := cfg.Account(id)
		if err != nil {
			return nil, err
		}

		cipher, err := wework.NewEnvelopeCipher(account.EncodingAESKey, account.CorpID)
		if err != nil {
			return nil, fmt.Errorf("init cipher for account %s: %w", id, err)
		}

		tokenOpts := []wework.TokenOption{wework.WithTokenTimeout(cfg.WeCom.TokenTimeout)}
		if m != nil {
			tokenOpts = append(tokenOpts, wework.WithRefreshHook(m.ObserveTokenRefresh))
		}
		tokens := wework.NewAccessTokenCache(id,
			client.NewTokenClient(cfg.WeCom.APIBaseURL, account, httpClient), logger, tokenOpts...)

		api := client.NewAPIClient(cfg.WeCom.APIBaseURL, account, tokens, httpClient, logger)
		router := bot.NewRouter(cfg.WeCom.Accounts[id].AllowFrom, aiClient, outbound.NewSender(api, logger), logger)
		app.routers = append(app.routers, router)

		svc := wework.NewService(account, cipher, router.Handler(), logger,
			wework.WithDeliverySignatureCheck(cfg.WeCom.VerifyDeliverySignature))

		path := cfg.WeCom.Accounts[id].WebhookPath
		routerCfg.Endpoints = append(routerCfg.Endpoints, handler.Endpoint{
			Path:    path,
			Handler: handler.NewCallbackHandler(id, svc, recorder, cfg.Server.MaxBodyBytes, logger),
		})
		logger.Info("wecom account registered", "account", id, "path", path)
	}

	app.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.NewRouter(routerCfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app, nil
}

// Handler 返回 HTTP 路由
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run 启动 HTTP 服务器，ctx 取消后优雅关闭并等待进行中的 AI 转发
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for _, r := range a.routers {
			r.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("timed out waiting for in-flight AI forwards")
	}
	return nil
}

// initLogger 根据配置初始化 slog logger
func initLogger(cfg shared.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}
