package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/feel-playground/feel-cache/internal/agent"
	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/config"
	"github.com/feel-playground/feel-cache/internal/logging"
	"github.com/feel-playground/feel-cache/internal/notify"
	"github.com/feel-playground/feel-cache/internal/proxy"
	"github.com/feel-playground/feel-cache/internal/server"
	"github.com/feel-playground/feel-cache/internal/server/routes"
	"github.com/feel-playground/feel-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["store"] = cfg.Store.StoreName()
		fields["backend"] = cfg.Store.Backend
		fields["manifest"] = len(cfg.Seed.Manifest)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 缓存 → 通知中心 → agent 预缓存并激活 → Fiber server，
	// 保证开始监听前本代缓存已就绪。
	rt, err := newServices(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存 agent 失败: %v\n", err)
		return 1
	}
	defer rt.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["store"] = cfg.Store.StoreName()
	fields["backend"] = cfg.Store.Backend
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, rt.app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("feel-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FEEL_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FEEL_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// services 持有进程内共享的组件，Close 按依赖逆序释放。
type services struct {
	app   *fiber.App
	agent *agent.Agent
	hub   *notify.Hub
}

// newServices 组装缓存、通知中心、agent 与 Fiber 应用，并完成 install/activate。
func newServices(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*services, error) {
	opener, err := cache.OpenerFromConfig(cfg.Store)
	if err != nil {
		return nil, err
	}
	manager := cache.NewManager(cfg.Store.StoreName(), opener, logger)

	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	seedURLs, err := cfg.SeedURLs()
	if err != nil {
		return nil, err
	}
	manifest := make([]cache.Key, 0, len(seedURLs))
	for _, u := range seedURLs {
		manifest = append(manifest, proxy.NormalizeURL(u))
	}

	hub := notify.NewHub(0)
	a, err := agent.New(agent.Options{
		Manager:     manager,
		Fetcher:     proxy.NewHTTPFetcher(server.NewUpstreamClient(cfg)),
		Hub:         hub,
		Manifest:    manifest,
		Concurrency: cfg.Seed.Concurrency,
		Version:     version.Version,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	rt := &services{agent: a, hub: hub}
	if _, err := a.Install(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if _, err := a.Activate(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	handler, err := proxy.NewHandler(proxy.HandlerOptions{
		Interceptor:  a,
		Origin:       origin,
		ClientHeader: cfg.Global.ClientHeader,
		StoreName:    cfg.Store.StoreName(),
		Logger:       logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	routes.RegisterAgentRoutes(app, a)
	routes.RegisterEventRoutes(app, hub, logger)
	rt.app = app
	return rt, nil
}

// shutdownTimeout 之后仍未完成的回写会被取消。
const shutdownTimeout = 10 * time.Second

// Close 先断开 SSE 订阅，再等待后台回写完成并关闭缓存。
func (rt *services) Close() {
	rt.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = rt.agent.Shutdown(ctx)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).WithField("action", "listen").Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	err := app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
