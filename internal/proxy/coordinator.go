package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/logging"
	"github.com/feel-playground/feel-cache/internal/notify"
)

// Lifetime 延长拦截事件的有效期：登记的任务在响应返回后继续运行直至完成。
type Lifetime interface {
	WaitUntil(task func())
}

// Notifier 向指定客户端投递消息，由宿主环境提供。
type Notifier interface {
	Notify(ctx context.Context, clientID string, msg notify.Message) error
}

// Event 是一次被拦截的请求。
type Event struct {
	// Request 是发往网络的请求，URL 已解析为源站绝对地址。
	Request *http.Request
	// URL 是客户端发出的原始地址（含查询串），通知中原样回传。
	URL string
	// ClientID 标识发起请求的客户端，非文档请求可能为空。
	ClientID string
	// Lifetime 承载后台回写任务；为空时任务以独立 goroutine 运行。
	Lifetime Lifetime
}

// Outcome 是最终返回给调用方的响应。
type Outcome struct {
	Key      cache.Key
	Response *cache.Response
	CacheHit bool
}

// CoordinatorOptions 汇总 Coordinator 依赖。
type CoordinatorOptions struct {
	Store    *cache.Manager
	Fetcher  Fetcher
	Notifier Notifier
	Logger   *logrus.Logger
	// Background 是网络请求与回写使用的上下文，与单个请求无关。
	Background context.Context
}

// Coordinator 对每个请求并行发起网络请求与缓存查找：缓存命中立即返回，
// 未命中则等待网络结果；网络成功后在后台比对 ETag、通知客户端并回写缓存。
type Coordinator struct {
	store    *cache.Manager
	fetcher  Fetcher
	notifier Notifier
	logger   *logrus.Logger
	base     context.Context
}

var errFetchAborted = errors.New("network fetch aborted")

// NewCoordinator 创建调度器，Store 与 Fetcher 不能为空。
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("store manager is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base := opts.Background
	if base == nil {
		base = context.Background()
	}
	return &Coordinator{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		logger:   logger,
		base:     base,
	}, nil
}

// Handle 处理一次拦截请求。返回错误表示既无缓存也无法从网络取得响应。
func (c *Coordinator) Handle(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.Request == nil || ev.Request.URL == nil {
		return nil, errors.New("request is required")
	}
	key := NormalizeRequest(ev.Request)

	if !isCacheableMethod(ev.Request.Method) {
		resp, err := c.fetcher.Fetch(ctx, ev.Request)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ev.URL, err)
		}
		return &Outcome{Key: key, Response: resp}, nil
	}

	remote := c.startFetch(ev)
	c.spawn(ev, func() { c.writeThrough(ev, key, remote) })

	entry, err := c.store.Lookup(ctx, key)
	switch {
	case err == nil:
		return &Outcome{Key: key, Response: entry.Response, CacheHit: true}, nil
	case !errors.Is(err, cache.ErrNotFound):
		c.logger.WithError(err).
			WithFields(logging.KeyFields("lookup", c.store.Name(), string(key))).
			Warn("cache_lookup_failed")
	}

	resp, err := remote.wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ev.URL, err)
	}
	return &Outcome{Key: key, Response: resp}, nil
}

// pendingFetch 是尚未完成的网络请求，可被响应路径与回写任务同时等待。
type pendingFetch struct {
	done chan struct{}
	resp *cache.Response
	err  error
}

func (p *pendingFetch) wait(ctx context.Context) (*cache.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// startFetch 在后台上下文中发起网络请求，请求方放弃等待也不会取消它。
func (c *Coordinator) startFetch(ev Event) *pendingFetch {
	p := &pendingFetch{done: make(chan struct{})}
	c.spawn(ev, func() {
		defer func() {
			if p.resp == nil && p.err == nil {
				p.err = errFetchAborted
			}
			close(p.done)
		}()
		p.resp, p.err = c.fetcher.Fetch(c.base, ev.Request)
	})
	return p
}

func (c *Coordinator) spawn(ev Event, task func()) {
	if ev.Lifetime != nil {
		ev.Lifetime.WaitUntil(task)
		return
	}
	go task()
}

// writeThrough 等待网络结果；仅 200 响应会与旧记录比对 ETag 并写入缓存。
// 这里的失败只记录日志，不影响已返回的响应。
func (c *Coordinator) writeThrough(ev Event, key cache.Key, remote *pendingFetch) {
	ctx := c.base
	resp, err := remote.wait(ctx)
	if err != nil {
		c.logger.WithError(err).
			WithFields(logging.KeyFields("write_through", c.store.Name(), string(key))).
			Debug("write_through_skipped")
		return
	}
	if !resp.Cacheable() {
		return
	}
	fresh := resp.Clone()

	if ev.ClientID != "" {
		c.detectChange(ctx, ev, key, fresh)
	}

	if err := c.store.Write(ctx, key, fresh); err != nil {
		c.logger.WithError(err).
			WithFields(logging.KeyFields("write_through", c.store.Name(), string(key))).
			Warn("cache_write_failed")
	}
}

// detectChange 旧记录存在且 ETag 与新响应不同时通知发起请求的客户端。
func (c *Coordinator) detectChange(ctx context.Context, ev Event, key cache.Key, fresh *cache.Response) {
	prior, err := c.store.Lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.WithError(err).
				WithFields(logging.KeyFields("notify", c.store.Name(), string(key))).
				Warn("cache_lookup_failed")
		}
		return
	}
	if prior.Response.ContentTag() == fresh.ContentTag() || c.notifier == nil {
		return
	}

	fields := logging.KeyFields("notify", c.store.Name(), string(key))
	fields["client_id"] = ev.ClientID
	fields["url"] = ev.URL
	fields["old_etag"] = prior.Response.ContentTag()
	fields["new_etag"] = fresh.ContentTag()
	if err := c.notifier.Notify(ctx, ev.ClientID, notify.ResourceChanged(ev.URL)); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("notify_failed")
		return
	}
	c.logger.WithFields(fields).Info("resource_changed")
}

func isCacheableMethod(method string) bool {
	return method == "" || method == http.MethodGet
}
