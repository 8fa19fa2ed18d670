// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// 加载顺序: 默认值 → YAML 配置文件 (可选) → 环境变量。
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentchat/go-chat-core/pkg/errors"
	"github.com/agentchat/go-chat-core/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境
	Env      string `env:"CHAT_ENV" default:"production" yaml:"env"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	LogDir   string `env:"LOG_DIR" default:"./logs" yaml:"log_dir"`

	// HTTP 服务
	ListenAddr string `env:"CHAT_LISTEN_ADDR" default:":8090" yaml:"listen_addr"`

	// 上游助手服务
	UpstreamBaseURL    string `env:"UPSTREAM_BASE_URL" default:"http://127.0.0.1:8000" yaml:"upstream_base_url"`
	UpstreamTimeoutSec int    `env:"UPSTREAM_TIMEOUT_SEC" default:"30" min:"1" yaml:"upstream_timeout_sec"`

	// 流式会话
	StreamIdleTimeoutSec int `env:"STREAM_IDLE_TIMEOUT_SEC" default:"120" min:"1" yaml:"stream_idle_timeout_sec"`
	HistoryTimeoutSec    int `env:"HISTORY_TIMEOUT_SEC" default:"120" min:"1" yaml:"history_timeout_sec"`
	HistoryPageSize      int `env:"HISTORY_PAGE_SIZE" default:"100" min:"1" yaml:"history_page_size"`

	// PostgreSQL (仅日志落库, 会话状态不持久化)
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING" yaml:"postgres_connection_string"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1" yaml:"postgres_pool_min_size"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1" yaml:"postgres_pool_max_size"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
//
// CHAT_CONFIG_FILE 指向 YAML 文件时先读文件, 环境变量仍可覆盖单项。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)

	if path := os.Getenv("CHAT_CONFIG_FILE"); path != "" {
		if loaded, err := LoadFile(path); err == nil {
			cfg = *loaded
		}
	}
	return &cfg
}

// LoadFile 从 YAML 文件加载配置, 环境变量中实际存在的项优先。
func LoadFile(path string) (*Config, error) {
	// 先填默认值, YAML 未写的字段保持默认
	var cfg Config
	util.LoadFromEnv(&cfg)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config.LoadFile", "read config file")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "Config.LoadFile", "parse yaml")
	}

	util.OverrideFromEnv(&cfg)
	return &cfg, nil
}
