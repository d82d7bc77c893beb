package cache

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/feel-playground/feel-cache/internal/config"
)

// OpenerFromConfig 根据 Store.Backend 选择缓存后端，假定配置已通过校验。
func OpenerFromConfig(cfg config.StoreConfig) (Opener, error) {
	switch cfg.Backend {
	case config.BackendDisk, "":
		return DiskOpener(cfg.Path), nil
	case config.BackendSQLite:
		return SQLiteOpener(cfg.Path), nil
	case config.BackendMemory:
		return MemoryOpener(cfg.MemoryMB), nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return RedisOpener(client, true), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
