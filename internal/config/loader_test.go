package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"

[Origin]
BaseURL = "https://origin.local"

[Cache]
PollInterval = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadTrimsBaseURLSlash(t *testing.T) {
	cfg := `
[Origin]
BaseURL = "https://origin.local/api/"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Origin.BaseURL != "https://origin.local/api" {
		t.Fatalf("BaseURL 末尾的 / 应被去除，得到 %s", loaded.Origin.BaseURL)
	}
}

func TestLoadEnvOverridesListenPort(t *testing.T) {
	t.Setenv("PARCEL_HUB_LISTENPORT", "6001")
	cfg := `
ListenPort = 5080

[Origin]
BaseURL = "https://origin.local"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.ListenPort != 6001 {
		t.Fatalf("环境变量应覆盖 ListenPort，得到 %d", loaded.Global.ListenPort)
	}
}
