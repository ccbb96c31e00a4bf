package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 允许通过 PARCEL_HUB_<KEY> 覆盖配置文件中的根级字段。
const EnvPrefix = "PARCEL_HUB"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Origin.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Origin.BaseURL), "/")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Origin.Timeout", "30s")
	v.SetDefault("Cache.PollInterval", "30s")
	v.SetDefault("Cache.GCGrace", "5m")
	v.SetDefault("Cache.DefaultTTL", "60s")
	v.SetDefault("Cache.MinPlausible", 10)
	v.SetDefault("Cache.LargeLimit", 1000)
	v.SetDefault("Cache.PageLimit", 50)
	v.SetDefault("Cache.RecentCount", 5)
}

// applyDefaults 兜底处理直接构造 Config（测试或嵌入调用）时遗漏的字段。
func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 5080
	}
	if cfg.Global.LogLevel == "" {
		cfg.Global.LogLevel = "info"
	}
	if cfg.Origin.Timeout.DurationValue() == 0 {
		cfg.Origin.Timeout = Duration(30 * time.Second)
	}
	c := &cfg.Cache
	if c.PollInterval.DurationValue() == 0 {
		c.PollInterval = Duration(30 * time.Second)
	}
	if c.GCGrace.DurationValue() == 0 {
		c.GCGrace = Duration(5 * time.Minute)
	}
	if c.DefaultTTL.DurationValue() == 0 {
		c.DefaultTTL = Duration(time.Minute)
	}
	if c.MinPlausible == 0 {
		c.MinPlausible = 10
	}
	if c.LargeLimit == 0 {
		c.LargeLimit = 1000
	}
	if c.PageLimit == 0 {
		c.PageLimit = 50
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
