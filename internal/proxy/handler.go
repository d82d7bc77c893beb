package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/feel-playground/feel-cache/internal/logging"
	"github.com/feel-playground/feel-cache/internal/server"
)

// Interceptor 接收拦截事件并给出最终响应，agent.Agent 实现该接口。
type Interceptor interface {
	Intercept(ctx context.Context, ev Event) (*Outcome, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, ev Event) (*Outcome, error)

// Intercept makes InterceptorFunc satisfy Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, ev Event) (*Outcome, error) {
	return f(ctx, ev)
}

// HandlerOptions 汇总 Handler 依赖。
type HandlerOptions struct {
	Interceptor  Interceptor
	Origin       *url.URL
	ClientHeader string
	StoreName    string
	Logger       *logrus.Logger
}

// Handler 把 Fiber 请求转换为拦截事件，并将结果写回客户端。
type Handler struct {
	interceptor  Interceptor
	origin       *url.URL
	clientHeader string
	storeName    string
	logger       *logrus.Logger
}

// NewHandler constructs the fiber-facing handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	header := opts.ClientHeader
	if header == "" {
		header = "X-Client-ID"
	}
	return &Handler{
		interceptor:  opts.Interceptor,
		origin:       opts.Origin,
		clientHeader: header,
		storeName:    opts.StoreName,
		logger:       opts.Logger,
	}, nil
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ev, err := h.buildEvent(c)
	if err != nil {
		h.logResult(c.Method(), requestURI(c), "", requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	outcome, err := h.interceptor.Intercept(ctx, ev)
	if err != nil {
		h.logResult(c.Method(), ev.URL, ev.ClientID, requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := outcome.Response
	copyResponseHeaders(c, resp.Header)
	if outcome.CacheHit {
		c.Set("X-Offline-Cache", "hit")
	} else {
		c.Set("X-Offline-Cache", "miss")
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	h.logResult(c.Method(), ev.URL, ev.ClientID, requestID, resp.Status, outcome.CacheHit, started, nil)

	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

// buildEvent 复制 fasthttp 请求中的数据，事件在 handler 返回后仍会被后台任务使用。
func (h *Handler) buildEvent(c fiber.Ctx) (Event, error) {
	original := requestURI(c)
	upstream := resolveUpstreamURL(h.origin, c)

	req, err := http.NewRequest(c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return Event{}, err
	}
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	return Event{
		Request:  req,
		URL:      original,
		ClientID: strings.TrimSpace(c.Get(h.clientHeader)),
	}, nil
}

// requestURI 返回路径加查询串；请求行为绝对形式时也不带 scheme 与 host。
func requestURI(c fiber.Ctx) string {
	return string(c.Request().URI().RequestURI())
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	rawURL string,
	clientID string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(h.storeName, method, rawURL, clientID, cacheHit)
	fields["action"] = "intercept"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("intercept_failed")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

// resolveUpstreamURL 把请求路径拼接到源站路径之后，并保留查询串。
func resolveUpstreamURL(origin *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	target := *origin
	target.Path = strings.TrimSuffix(origin.Path, "/") + normalizeRequestPath(string(uri.Path()))
	target.RawPath = ""
	target.RawQuery = string(uri.QueryString())
	target.Fragment = ""
	return &target
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传上游头部；Content-Length 由 Fiber 按正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
