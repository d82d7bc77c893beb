package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份通过校验的磁盘缓存配置，用例在此基础上修改单个字段。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			Origin:          "http://127.0.0.1:8080",
			ClientHeader:    "X-Client-ID",
			UpstreamTimeout: Duration(time.Second),
		},
		Store: StoreConfig{
			Name:     "feel-playground-cache",
			Version:  "v1",
			Backend:  BackendDisk,
			Path:     "./data",
			MemoryMB: 16,
		},
		Seed: SeedConfig{
			Manifest:    append([]string(nil), DefaultManifest...),
			Concurrency: 2,
		},
	}
}

// storeWith 返回只修改了 Store 表的 validConfig。
func storeWith(mutate func(*StoreConfig)) *Config {
	cfg := validConfig()
	mutate(&cfg.Store)
	return cfg
}
