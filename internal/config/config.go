package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Gateway backends.
const (
	GatewayModeHTTP  = "http"
	GatewayModeLocal = "local"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string
	DatabasePath  string
	SessionSecret string
	GinMode       string
	SiteDir       string
	DocumentURL   string

	GatewayMode    string
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration
	LocalRepoPath  string
	Branch         string

	SaveMaxAttempts int
	RedisURL        string
	SaveLockTTL     time.Duration

	SuperRootUserName string
	SuperRootPassword string
	SuperRootEmail    string
}

var defaults = map[string]any{
	"listen_addr":             ":8080",
	"database_path":           "gallerydesk.db",
	"session_secret":          "gallerydesk-dev-secret",
	"gin_mode":                "release",
	"site_dir":                "site",
	"document_url":            "",
	"gateway_mode":            GatewayModeHTTP,
	"gateway_url":             "",
	"gateway_token":           "",
	"gateway_timeout_seconds": 30,
	"local_repo_path":         "",
	"branch":                  "main",
	"save_max_attempts":       1,
	"redis_url":               "",
	"save_lock_ttl_seconds":   120,
	"super_root_user_name":    "",
	"super_root_password":     "",
	"super_root_email":        "",
}

// Load 依次读取默认值、可选的 YAML 配置文件与环境变量（环境变量优先）。
func Load(path string) (AppConfig, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	str := func(key string) string {
		value := strings.TrimSpace(v.GetString(key))
		if value == "" {
			if fallback, ok := defaults[key].(string); ok {
				return fallback
			}
		}
		return value
	}

	cfg := AppConfig{
		ListenAddr:        str("listen_addr"),
		DatabasePath:      str("database_path"),
		SessionSecret:     str("session_secret"),
		GinMode:           str("gin_mode"),
		SiteDir:           str("site_dir"),
		DocumentURL:       str("document_url"),
		GatewayMode:       strings.ToLower(str("gateway_mode")),
		GatewayURL:        str("gateway_url"),
		GatewayToken:      str("gateway_token"),
		GatewayTimeout:    time.Duration(v.GetInt("gateway_timeout_seconds")) * time.Second,
		LocalRepoPath:     str("local_repo_path"),
		Branch:            str("branch"),
		SaveMaxAttempts:   v.GetInt("save_max_attempts"),
		RedisURL:          str("redis_url"),
		SaveLockTTL:       time.Duration(v.GetInt("save_lock_ttl_seconds")) * time.Second,
		SuperRootUserName: str("super_root_user_name"),
		SuperRootPassword: str("super_root_password"),
		SuperRootEmail:    str("super_root_email"),
	}
	if cfg.SaveMaxAttempts < 1 {
		cfg.SaveMaxAttempts = 1
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查网关相关配置是否完整。
func (c AppConfig) Validate() error {
	switch c.GatewayMode {
	case GatewayModeHTTP:
		// GATEWAY_URL 为空时仅能浏览，保存会失败；不在启动时拒绝。
	case GatewayModeLocal:
	default:
		return fmt.Errorf("unsupported gateway mode %q (want %s or %s)", c.GatewayMode, GatewayModeHTTP, GatewayModeLocal)
	}
	return nil
}
