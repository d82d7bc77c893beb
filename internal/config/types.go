package config

import (
	"fmt"
	"net/url"
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

// 支持的缓存后端。
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// GlobalConfig 描述进程级运行参数：监听端口、日志、源站与超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	Origin          string   `mapstructure:"Origin"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ClientHeader    string   `mapstructure:"ClientHeader"`
}

// StoreConfig 决定本地缓存的名称、版本与存储后端。
type StoreConfig struct {
	Name          string `mapstructure:"Name"`
	Version       string `mapstructure:"Version"`
	Backend       string `mapstructure:"Backend"`
	Path          string `mapstructure:"Path"`
	MemoryMB      int    `mapstructure:"MemoryMB"`
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
}

// SeedConfig 是构建期产出的预缓存清单，路径相对于 Origin。
type SeedConfig struct {
	Manifest    []string `mapstructure:"Manifest"`
	Concurrency int      `mapstructure:"Concurrency"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Store  StoreConfig  `mapstructure:"Store"`
	Seed   SeedConfig   `mapstructure:"Seed"`
}

// StoreName 返回带版本后缀的缓存名，例如 feel-playground-cache-v1。
// 升级 Version 即产生新的缓存代际，旧缓存不再可达。
func (s StoreConfig) StoreName() string {
	return s.Name + "-" + s.Version
}

// OriginURL 解析源站地址，假定 Validate 已经通过。
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	return u, nil
}

// SeedURLs 将清单中的相对路径解析为完整 URL。
func (c *Config) SeedURLs() ([]*url.URL, error) {
	origin, err := c.OriginURL()
	if err != nil {
		return nil, err
	}
	base := *origin
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	result := make([]*url.URL, 0, len(c.Seed.Manifest))
	for _, raw := range c.Seed.Manifest {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, newFieldError("Seed.Manifest", fmt.Sprintf("无法解析路径 %q", raw))
		}
		result = append(result, base.ResolveReference(ref))
	}
	return result, nil
}
