package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilRedisClient 表示未注入 redis 客户端。
var ErrNilRedisClient = errors.New("redis store: nil client")

// RedisOpener 使用 redis 客户端，键以 "<name>:" 为前缀区分缓存代际。
// owned 为 true 时 Store.Close 会一并关闭客户端。
func RedisOpener(client goredis.UniversalClient, owned bool) Opener {
	return func(ctx context.Context, name string) (Store, error) {
		if client == nil {
			return nil, ErrNilRedisClient
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return &redisStore{rdb: client, owned: owned, prefix: name + ":", now: time.Now}, nil
	}
}

type redisStore struct {
	rdb    goredis.UniversalClient
	owned  bool
	prefix string
	now    func() time.Time
}

func (s *redisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := s.rdb.Get(ctx, s.prefix+string(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

// Put 不设置过期时间，缓存生命周期与 redis 实例一致。
func (s *redisStore) Put(ctx context.Context, key Key, resp *Response) (*Entry, error) {
	if resp == nil {
		return nil, errors.New("response required")
	}
	entry := newEntry(key, resp, s.now())
	data, err := encodeEntry(entry)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, s.prefix+string(key), data, 0).Err(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *redisStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
