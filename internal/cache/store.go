package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Key 是规范化后的请求标识（去掉查询串的 URL），所有缓存读写都以它为键。
type Key string

// Response 保存一份完整的上游响应：状态码、原始头部与正文。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone 复制头部，正文切片视为不可变而共享。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   r.Body,
	}
}

// ContentTag 返回内容标识（ETag 头），缺失时为空串。
func (r *Response) ContentTag() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("ETag")
}

// Cacheable 仅 200 响应允许写入缓存。
func (r *Response) Cacheable() bool {
	return r != nil && r.Status == http.StatusOK
}

// Entry 表示缓存中的一条记录。
type Entry struct {
	Key      Key
	Response *Response
	StoredAt time.Time
}

// Store 负责单个命名缓存的读写。写入总是整条替换同键的旧记录，
// 实现需保证并发写入同一个键时不会暴露半写状态。
type Store interface {
	// Get 返回当前记录；不存在时返回 ErrNotFound。
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put 以 resp 整条替换 key 对应的记录。
	Put(ctx context.Context, key Key, resp *Response) (*Entry, error)

	// Close 释放底层资源。
	Close() error
}

// Opener 按名称打开（必要时创建）一个 Store。
type Opener func(ctx context.Context, name string) (Store, error)

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrStoreUnavailable 表示缓存无法打开或已关闭。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// ErrEntryTooLarge 表示单条记录超出后端容量，只影响该资源。
var ErrEntryTooLarge = errors.New("cache entry too large")
