package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：本地监听端口与日志输出。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// OriginConfig 描述上游 parcel API。Token 仅做透传，令牌的获取与刷新不在本进程内处理。
type OriginConfig struct {
	BaseURL string   `mapstructure:"BaseURL"`
	Timeout Duration `mapstructure:"Timeout"`
	Token   string   `mapstructure:"Token"`
}

// CacheConfig 控制查询缓存的刷新节奏与拉取策略的阈值。
type CacheConfig struct {
	PollInterval Duration `mapstructure:"PollInterval"`
	GCGrace      Duration `mapstructure:"GCGrace"`
	DefaultTTL   Duration `mapstructure:"DefaultTTL"`
	MinPlausible int      `mapstructure:"MinPlausible"`
	LargeLimit   int      `mapstructure:"LargeLimit"`
	PageLimit    int      `mapstructure:"PageLimit"`
	RecentCount  int      `mapstructure:"RecentCount"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:"Origin"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}

// AuthMode 输出 `token` 或 `anonymous`，供日志字段使用。
func (o OriginConfig) AuthMode() string {
	if strings.TrimSpace(o.Token) != "" {
		return "token"
	}
	return "anonymous"
}
