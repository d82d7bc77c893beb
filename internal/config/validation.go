package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	BackendDisk:   {},
	BackendSQLite: {},
	BackendMemory: {},
	BackendRedis:  {},
}

const supportedBackendList = "disk|sqlite|memory|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return newFieldError("Global.Origin", err.Error())
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if strings.TrimSpace(g.ClientHeader) == "" {
		return newFieldError("Global.ClientHeader", "不能为空")
	}

	if err := c.Store.validate(); err != nil {
		return err
	}

	if c.Seed.Concurrency <= 0 {
		return newFieldError("Seed.Concurrency", "必须大于 0")
	}
	for _, raw := range c.Seed.Manifest {
		if strings.TrimSpace(raw) == "" {
			return newFieldError("Seed.Manifest", "不允许空路径")
		}
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return newFieldError("Seed.Manifest", fmt.Sprintf("无法解析路径 %q", raw))
		}
		if ref.IsAbs() || ref.Host != "" {
			return newFieldError("Seed.Manifest", fmt.Sprintf("必须是相对源站的路径: %s", raw))
		}
	}

	return nil
}

func (s *StoreConfig) validate() error {
	if err := validateStoreSegment(s.Name); err != nil {
		return storeFieldError("Name", err)
	}
	if err := validateStoreSegment(s.Version); err != nil {
		return storeFieldError("Version", err)
	}

	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError(storeField("Backend"), "仅支持 "+supportedBackendList)
	}
	s.Backend = backend

	switch backend {
	case BackendDisk, BackendSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError(storeField("Path"), "不能为空")
		}
	case BackendMemory:
		if s.MemoryMB <= 0 {
			return newFieldError(storeField("MemoryMB"), "必须大于 0")
		}
	case BackendRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			return newFieldError(storeField("RedisAddr"), "不能为空")
		}
		if s.RedisDB < 0 {
			return newFieldError(storeField("RedisDB"), "不能为负数")
		}
	}
	return nil
}

func validateStoreSegment(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, `/\: `) {
		return errors.New("不允许包含路径分隔符、冒号或空格")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" {
		return fmt.Errorf("源站不应包含查询串: %s", raw)
	}
	return nil
}
