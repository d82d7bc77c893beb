package proxy

import (
	"net/http"
	"net/url"

	"github.com/feel-playground/feel-cache/internal/cache"
)

// NormalizeRequest 只根据请求 URL 计算缓存键，方法与头部不参与。
// 查询串被清空，asset.js?v=3 与 asset.js?v=4 命中同一条缓存。
func NormalizeRequest(req *http.Request) cache.Key {
	if req == nil {
		return ""
	}
	return NormalizeURL(req.URL)
}

// NormalizeURL 清空查询串与片段后返回 URL 字符串形式。
func NormalizeURL(u *url.URL) cache.Key {
	if u == nil {
		return ""
	}
	clean := *u
	clean.RawQuery = ""
	clean.ForceQuery = false
	clean.Fragment = ""
	clean.RawFragment = ""
	return cache.Key(clean.String())
}
