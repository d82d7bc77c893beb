package config

import (
	"errors"
	"testing"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 0 {
		t.Fatalf("UpstreamTimeout 默认不应设置超时")
	}
	if cfg.Store.Path == "" {
		t.Fatalf("Store.Path 应该被保留")
	}
	if cfg.Global.ListenPort == 0 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Store.StoreName() != "feel-playground-cache-v1" {
		t.Fatalf("缓存名应带版本后缀，得到 %s", cfg.Store.StoreName())
	}
	if len(cfg.Seed.Manifest) != 3 {
		t.Fatalf("预缓存清单应来自配置文件，得到 %v", cfg.Seed.Manifest)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.Origin" {
		t.Fatalf("缺少 Origin 应返回 Global.Origin 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsNonHTTPOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Origin = "ftp://origin.local/"
	var fieldErr FieldError
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Global.Origin" {
		t.Fatalf("非 http(s) 源站应返回字段错误，得到 %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"disk ok", "disk", nil, false},
		{"sqlite ok", "sqlite", nil, false},
		{"memory ok", "memory", nil, false},
		{"redis requires addr", "redis", nil, true},
		{"redis ok", "redis", func(c *Config) { c.Store.RedisAddr = "127.0.0.1:6379" }, false},
		{"memory requires size", "memory", func(c *Config) { c.Store.MemoryMB = 0 }, true},
		{"unsupported backend", "indexeddb", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Store.Backend = tc.backend
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateRejectsStoreNameWithSeparator(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Version = "v1/../v0"
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Store.Version" {
		t.Fatalf("期望 Store.Version 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsAbsoluteManifestEntry(t *testing.T) {
	cfg := validConfig()
	cfg.Seed.Manifest = []string{"https://cdn.example/bundle.js"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("清单只允许相对路径")
	}
}

func TestSeedURLsResolveAgainstOrigin(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Origin = "https://play.example/feel"
	cfg.Seed.Manifest = []string{"./", "./bundle.js"}

	urls, err := cfg.SeedURLs()
	if err != nil {
		t.Fatalf("SeedURLs 失败: %v", err)
	}
	if urls[0].String() != "https://play.example/feel/" {
		t.Fatalf("根路径解析错误: %s", urls[0])
	}
	if urls[1].String() != "https://play.example/feel/bundle.js" {
		t.Fatalf("资源路径解析错误: %s", urls[1])
	}
}

func TestStoreSegmentsRejectSeparators(t *testing.T) {
	for _, bad := range []string{"cache/v1", "cache:v1", "cache v1", ""} {
		cfg := storeWith(func(s *StoreConfig) { s.Version = bad })
		var fieldErr FieldError
		if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Store.Version" {
			t.Fatalf("Version %q 应被拒绝，得到 %v", bad, err)
		}
	}
}
