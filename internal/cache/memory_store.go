package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// MemoryOpener 返回基于 bigcache 的进程内缓存，容量上限为 maxMB。
// 条目不会因时间过期，只在超出容量时按写入顺序淘汰。
func MemoryOpener(maxMB int) Opener {
	return func(ctx context.Context, name string) (Store, error) {
		return NewMemoryStore(ctx, maxMB)
	}
}

// NewMemoryStore 构建 bigcache 实例；测试中可为每个用例创建独立缓存。
func NewMemoryStore(ctx context.Context, maxMB int) (Store, error) {
	if maxMB <= 0 {
		return nil, errors.New("memory store size must be positive")
	}
	shards := memoryShards(maxMB)
	conf := bigcache.DefaultConfig(365 * 24 * time.Hour)
	conf.Shards = shards
	conf.CleanWindow = 0
	conf.MaxEntriesInWindow = 256
	conf.MaxEntrySize = 4096
	conf.HardMaxCacheSize = maxMB
	conf.Verbose = false

	c, err := bigcache.New(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	return &memoryStore{
		c:        c,
		now:      time.Now,
		maxEntry: maxMB * 1024 * 1024 / shards,
	}, nil
}

// 单条记录不能跨分片，分片越少单条上限越高；每个分片至少保留 minShardMB。
const minShardMB = 8

// memoryShards 返回不超过 16 的 2 的幂。
func memoryShards(maxMB int) int {
	shards := 16
	for shards > 1 && maxMB/shards < minShardMB {
		shards /= 2
	}
	return shards
}

// bigcache 为每条记录附加的头部与队列长度前缀。
const memoryEntryOverhead = 64

type memoryStore struct {
	c        *bigcache.BigCache
	now      func() time.Time
	maxEntry int
}

func (s *memoryStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.c.Get(string(key))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

func (s *memoryStore) Put(ctx context.Context, key Key, resp *Response) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("response required")
	}
	entry := newEntry(key, resp, s.now())
	data, err := encodeEntry(entry)
	if err != nil {
		return nil, err
	}
	if size := len(data) + len(key) + memoryEntryOverhead; size > s.maxEntry {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrEntryTooLarge, size, s.maxEntry)
	}
	if err := s.c.Set(string(key), data); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *memoryStore) Close() error {
	return s.c.Close()
}
