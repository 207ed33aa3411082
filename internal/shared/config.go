package shared

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-wecom-callback/internal/wework"
)

const (
	DefaultAPIBaseURL   = "https://qyapi.weixin.qq.com/cgi-bin"
	DefaultAccountID    = "default"
	DefaultWebhookPath  = "/wecom/webhook"
	DefaultMaxBodyBytes = 10 << 20
	DefaultMetricsPath  = "/metrics"
)

// Config 应用配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	WeCom   WeComConfig   `yaml:"wecom"`
	AI      AIConfig      `yaml:"ai"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// WeComConfig 企业微信配置
type WeComConfig struct {
	APIBaseURL              string                   `yaml:"api_base_url"`
	TokenTimeout            time.Duration            `yaml:"token_timeout"`
	VerifyDeliverySignature bool                     `yaml:"verify_delivery_signature"`
	DefaultAccount          string                   `yaml:"default_account"`
	Accounts                map[string]AccountConfig `yaml:"accounts"`
}

// AccountConfig 单个企业微信应用配置
type AccountConfig struct {
	CorpID         string   `yaml:"corp_id"`
	Secret         string   `yaml:"secret"`
	AgentID        int64    `yaml:"agent_id"`
	Token          string   `yaml:"token"`
	EncodingAESKey string   `yaml:"encoding_aes_key"`
	WebhookPath    string   `yaml:"webhook_path"`
	AllowFrom      []string `yaml:"allow_from"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled 未配置 enabled 时视为启用
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// AIConfig AI 助手配置
type AIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   int           `yaml:"retry"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

var alphanumericRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// LoadConfig 从 YAML 文件加载并验证配置
// 先加载 .env / .env.local（不覆盖已有环境变量），corp_id、secret 为空时回退到 WECOM_CORPID、WECOM_SECRET
func LoadConfig(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig 解析 YAML 内容，补全默认值并验证
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", name, err)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.WeCom.APIBaseURL == "" {
		c.WeCom.APIBaseURL = DefaultAPIBaseURL
	}
	c.WeCom.APIBaseURL = strings.TrimRight(c.WeCom.APIBaseURL, "/")
	if c.WeCom.TokenTimeout == 0 {
		c.WeCom.TokenTimeout = wework.DefaultTokenTimeout
	}
	if c.WeCom.DefaultAccount == "" {
		c.WeCom.DefaultAccount = DefaultAccountID
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	for id, acc := range c.WeCom.Accounts {
		if acc.CorpID == "" {
			acc.CorpID = os.Getenv("WECOM_CORPID")
		}
		if acc.Secret == "" {
			acc.Secret = os.Getenv("WECOM_SECRET")
		}
		if acc.WebhookPath == "" {
			acc.WebhookPath = defaultWebhookPath(id, c.WeCom.DefaultAccount)
		}
		c.WeCom.Accounts[id] = acc
	}
}

func defaultWebhookPath(id, defaultID string) string {
	if id == defaultID {
		return DefaultWebhookPath
	}
	return "/wecom/" + id + "/webhook"
}

func (c *Config) validate() error {
	// server.addr
	if err := validateAddr(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}

	// wecom.api_base_url
	if err := validateBaseURL(c.WeCom.APIBaseURL); err != nil {
		return fmt.Errorf("wecom.api_base_url: %w", err)
	}

	// wecom.accounts
	if len(c.WeCom.Accounts) == 0 {
		return fmt.Errorf("wecom.accounts: at least one account is required")
	}
	paths := make(map[string]string, len(c.WeCom.Accounts))
	for _, id := range c.accountIDs() {
		acc := c.WeCom.Accounts[id]
		if !acc.IsEnabled() {
			continue
		}
		if err := acc.validate(); err != nil {
			return fmt.Errorf("wecom.accounts.%s.%w", id, err)
		}
		if other, ok := paths[acc.WebhookPath]; ok {
			return fmt.Errorf("wecom.accounts.%s.webhook_path: %q already used by account %s", id, acc.WebhookPath, other)
		}
		paths[acc.WebhookPath] = id
	}

	// ai.base_url
	if err := validateBaseURL(c.AI.BaseURL); err != nil {
		return fmt.Errorf("ai.base_url: %w", err)
	}

	return nil
}

func (a AccountConfig) validate() error {
	if a.CorpID == "" {
		return fmt.Errorf("corp_id: must not be empty (or set WECOM_CORPID)")
	}
	if a.Secret == "" {
		return fmt.Errorf("secret: must not be empty (or set WECOM_SECRET)")
	}
	if a.AgentID <= 0 {
		return fmt.Errorf("agent_id: must be a positive number")
	}

	if a.Token == "" {
		return fmt.Errorf("token: must not be empty")
	}
	if len(a.Token) > 32 {
		return fmt.Errorf("token: must be at most 32 characters, got %d", len(a.Token))
	}
	if !alphanumericRegex.MatchString(a.Token) {
		return fmt.Errorf("token: must contain only alphanumeric characters")
	}

	if len(a.EncodingAESKey) != 43 {
		return fmt.Errorf("encoding_aes_key: must be exactly 43 characters, got %d", len(a.EncodingAESKey))
	}
	if !alphanumericRegex.MatchString(a.EncodingAESKey) {
		return fmt.Errorf("encoding_aes_key: must contain only alphanumeric characters")
	}

	if !strings.HasPrefix(a.WebhookPath, "/") {
		return fmt.Errorf("webhook_path: must start with /")
	}
	return nil
}

// Account 解析账号凭证，id 为空时使用 default_account
func (c *Config) Account(id string) (wework.Account, error) {
	if id == "" {
		id = c.WeCom.DefaultAccount
	}
	acc, ok := c.WeCom.Accounts[id]
	if !ok {
		return wework.Account{}, fmt.Errorf("wecom account not found: %s", id)
	}
	if !acc.IsEnabled() {
		return wework.Account{}, fmt.Errorf("wecom account disabled: %s", id)
	}
	return wework.Account{
		ID:             id,
		CorpID:         acc.CorpID,
		Secret:         acc.Secret,
		AgentID:        acc.AgentID,
		Token:          acc.Token,
		EncodingAESKey: acc.EncodingAESKey,
	}, nil
}

// EnabledAccountIDs 返回启用的账号 ID，按字典序排列
func (c *Config) EnabledAccountIDs() []string {
	ids := make([]string, 0, len(c.WeCom.Accounts))
	for _, id := range c.accountIDs() {
		if c.WeCom.Accounts[id].IsEnabled() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Config) accountIDs() []string {
	ids := make([]string, 0, len(c.WeCom.Accounts))
	for id := range c.WeCom.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("must not be empty")
	}
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	return nil
}

func validateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	return nil
}
