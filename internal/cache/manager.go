package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// FetchFunc 从网络取回一个完整资源，供预缓存使用。
type FetchFunc func(ctx context.Context, key Key) (*Response, error)

// SeedReport 汇总一次预缓存的结果。
type SeedReport struct {
	Seeded  []Key `json:"seeded"`
	Present []Key `json:"present"`
	Failed  []Key `json:"failed"`
}

// Manager 持有当前代际唯一的命名缓存：首次使用时打开，之后复用同一实例。
// 测试可为每个用例构造独立的 Manager。
type Manager struct {
	name   string
	opener Opener
	logger *logrus.Logger

	mu     sync.Mutex
	store  Store
	closed bool
}

// NewManager 创建缓存管理器，name 应包含版本后缀。
func NewManager(name string, opener Opener, logger *logrus.Logger) *Manager {
	return &Manager{
		name:   name,
		opener: opener,
		logger: logger,
	}
}

// Name 返回带版本后缀的缓存名。
func (m *Manager) Name() string {
	return m.name
}

// Open 返回缓存实例，必要时创建。打开失败不会被记住，下次调用会重试。
func (m *Manager) Open(ctx context.Context) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %s closed", ErrStoreUnavailable, m.name)
	}
	if m.store != nil {
		return m.store, nil
	}
	if m.opener == nil {
		return nil, fmt.Errorf("%w: %s has no backend", ErrStoreUnavailable, m.name)
	}

	store, err := m.opener(ctx, m.name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreUnavailable, m.name, err)
	}
	m.store = store
	return store, nil
}

// Lookup 返回 key 对应的记录；不存在时返回 ErrNotFound。
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, error) {
	store, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// Write 以 resp 无条件替换 key 对应的记录。
func (m *Manager) Write(ctx context.Context, key Key, resp *Response) error {
	store, err := m.Open(ctx)
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, key, resp)
	return err
}

// Seed 确保清单中的资源都在缓存中：已存在的跳过，缺失的并发拉取后写入。
// 单个资源拉取失败或超出容量只记录日志；缓存本身不可用时整体返回错误。
func (m *Manager) Seed(ctx context.Context, manifest []Key, fetch FetchFunc, concurrency int) (SeedReport, error) {
	var report SeedReport
	if _, err := m.Open(ctx); err != nil {
		return report, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	record := func(list *[]Key, key Key) {
		mu.Lock()
		*list = append(*list, key)
		mu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(concurrency).WithErrors().WithContext(ctx).WithCancelOnError()
	for _, key := range manifest {
		p.Go(func(ctx context.Context) error {
			_, err := m.Lookup(ctx, key)
			switch {
			case err == nil:
				record(&report.Present, key)
				return nil
			case !errors.Is(err, ErrNotFound):
				return fmt.Errorf("lookup %s: %w", key, err)
			}

			resp, err := fetch(ctx, key)
			if err == nil && !resp.Cacheable() {
				err = fmt.Errorf("unexpected status %d", resp.Status)
			}
			if err != nil {
				m.logSeedFailure(key, err)
				record(&report.Failed, key)
				return nil
			}

			if err := m.Write(ctx, key, resp); err != nil {
				if errors.Is(err, ErrEntryTooLarge) {
					m.logSeedFailure(key, err)
					record(&report.Failed, key)
					return nil
				}
				return fmt.Errorf("write %s: %w", key, err)
			}
			record(&report.Seeded, key)
			return nil
		})
	}
	err := p.Wait()
	return report, err
}

// Close 关闭底层缓存，之后的操作返回 ErrStoreUnavailable。
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	return err
}

func (m *Manager) logSeedFailure(key Key, err error) {
	if m.logger == nil {
		return
	}
	m.logger.WithError(err).WithFields(logrus.Fields{
		"action": "seed",
		"store":  m.name,
		"key":    string(key),
	}).Warn("seed_asset_failed")
}
