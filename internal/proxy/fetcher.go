package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/server"
)

// Fetcher 执行一次网络请求，并把响应完整读入内存。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// HTTPFetcher 基于共享 http.Client 访问源站。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 使用 server.NewUpstreamClient 创建的客户端。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch 以 ctx 重新绑定请求后发出；响应头去掉 hop-by-hop 字段。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// FetchKey 以 GET 拉取规范化后的资源，供预缓存使用。
func FetchKey(ctx context.Context, f Fetcher, key cache.Key) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(key), nil)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, req)
}
