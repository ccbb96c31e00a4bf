package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}

	if err := validateOrigin(c.Origin.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Origin", "BaseURL"), err)
	}
	if c.Origin.Timeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Origin", "Timeout"), "必须大于 0")
	}

	cc := c.Cache
	if cc.PollInterval.DurationValue() <= 0 {
		return newFieldError(sectionField("Cache", "PollInterval"), "必须大于 0")
	}
	if cc.GCGrace.DurationValue() < 0 {
		return newFieldError(sectionField("Cache", "GCGrace"), "不能为负数")
	}
	if cc.DefaultTTL.DurationValue() < 0 {
		return newFieldError(sectionField("Cache", "DefaultTTL"), "不能为负数")
	}
	if cc.MinPlausible < 0 {
		return newFieldError(sectionField("Cache", "MinPlausible"), "不能为负数")
	}
	if cc.LargeLimit <= 0 {
		return newFieldError(sectionField("Cache", "LargeLimit"), "必须大于 0")
	}
	if cc.PageLimit <= 0 {
		return newFieldError(sectionField("Cache", "PageLimit"), "必须大于 0")
	}
	if cc.RecentCount < 0 {
		return newFieldError(sectionField("Cache", "RecentCount"), "不能为负数")
	}

	return nil
}

func validateOrigin(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
