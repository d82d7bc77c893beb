package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feel-playground/feel-cache/internal/config"
	"github.com/feel-playground/feel-cache/internal/notify"
)

func TestRuntimeServesSeededAssetsAndNotifiesChanges(t *testing.T) {
	origin := newPlaygroundOrigin()
	server := httptest.NewServer(origin)
	defer server.Close()

	rt := newTestServices(t, server.URL+"/")

	sub, err := rt.hub.Subscribe("tab-1")
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	defer sub.Close()

	origin.setBundle(`"v2"`, "console.log(2)")

	resp := doGet(t, rt, "/bundle.js?v=1", "tab-1")
	if resp.Header.Get("X-Offline-Cache") != "hit" {
		t.Fatalf("预缓存资源应命中，得到 %q", resp.Header.Get("X-Offline-Cache"))
	}
	if body := readBody(t, resp); body != "console.log(1)" {
		t.Fatalf("应先返回缓存的旧版本，得到 %q", body)
	}

	select {
	case msg := <-sub.Messages():
		if msg.Kind != notify.KindResourceChanged || msg.URL != "/bundle.js?v=1" {
			t.Fatalf("通知内容不符: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("未收到资源变更通知")
	}
	waitForBackgroundTasks(t, rt)

	resp = doGet(t, rt, "/bundle.js", "tab-1")
	if body := readBody(t, resp); body != "console.log(2)" {
		t.Fatalf("刷新后应得到新版本，得到 %q", body)
	}
	waitForBackgroundTasks(t, rt)

	server.Close()

	resp = doGet(t, rt, "/bundle.js", "")
	if body := readBody(t, resp); body != "console.log(2)" {
		t.Fatalf("离线时应返回缓存，得到 %q", body)
	}
	resp = doGet(t, rt, "/never-seen.js", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("离线且无缓存应返回 502，得到 %d", resp.StatusCode)
	}
}

func TestRuntimeExposesAgentDiagnostics(t *testing.T) {
	server := httptest.NewServer(newPlaygroundOrigin())
	defer server.Close()

	rt := newTestServices(t, server.URL+"/")

	resp := doGet(t, rt, "/-/agent", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("诊断接口应返回 200，得到 %d", resp.StatusCode)
	}
	var payload struct {
		State string `json:"state"`
		Store string `json:"store"`
		Seed  struct {
			Seeded int `json:"seeded"`
		} `json:"seed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析诊断输出失败: %v", err)
	}
	if payload.State != "activated" || payload.Store != "feel-playground-cache-v1" || payload.Seed.Seeded != 2 {
		t.Fatalf("诊断输出不符: %+v", payload)
	}
}

func newTestServices(t *testing.T, origin string) *services {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:   5000,
			Origin:       origin,
			ClientHeader: "X-Client-ID",
		},
		Store: config.StoreConfig{
			Name:    "feel-playground-cache",
			Version: "v1",
			Backend: config.BackendDisk,
			Path:    t.TempDir(),
		},
		Seed: config.SeedConfig{
			Manifest:    []string{"./", "./bundle.js"},
			Concurrency: 2,
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	rt, err := newServices(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("初始化运行时失败: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func doGet(t *testing.T, rt *services, target, clientID string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://cache.local"+target, nil)
	if clientID != "" {
		req.Header.Set("X-Client-ID", clientID)
	}
	resp, err := rt.app.Test(req)
	if err != nil {
		t.Fatalf("请求 %s 失败: %v", target, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	return string(body)
}

func waitForBackgroundTasks(t *testing.T, rt *services) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rt.agent.Status().PendingTasks > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("后台任务未在期限内完成")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// playgroundOrigin 模拟构建产物服务器，bundle.js 的内容与 ETag 可在测试中切换。
type playgroundOrigin struct {
	mu   sync.Mutex
	etag string
	body string
}

func newPlaygroundOrigin() *playgroundOrigin {
	return &playgroundOrigin{etag: `"v1"`, body: "console.log(1)"}
}

func (o *playgroundOrigin) setBundle(etag, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.etag = etag
	o.body = body
}

func (o *playgroundOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", `"index"`)
		_, _ = w.Write([]byte("<html></html>"))
	case "/bundle.js":
		o.mu.Lock()
		etag, body := o.etag, o.body
		o.mu.Unlock()
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(body))
	default:
		http.NotFound(w, r)
	}
}
