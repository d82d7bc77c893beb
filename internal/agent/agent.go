package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/notify"
	"github.com/feel-playground/feel-cache/internal/proxy"
)

// State 表示 agent 所处的生命周期阶段。
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivated  State = "activated"
	StateClosed     State = "closed"
)

var (
	// ErrClosed 表示 agent 已关闭，不再接受请求。
	ErrClosed = errors.New("agent closed")
	// ErrNotInstalled 表示尚未完成预缓存就尝试激活。
	ErrNotInstalled = errors.New("agent not installed")
)

// Options 汇总 Agent 依赖。
type Options struct {
	Manager     *cache.Manager
	Fetcher     proxy.Fetcher
	Hub         *notify.Hub
	Manifest    []cache.Key
	Concurrency int
	Version     string
	Logger      *logrus.Logger
}

// Status 是诊断接口输出的快照。
type Status struct {
	State        State
	Store        string
	Version      string
	SkipWaiting  bool
	InstalledAt  time.Time
	ActivatedAt  time.Time
	Claimed      int
	Clients      []notify.ClientInfo
	LastSeed     *cache.SeedReport
	PendingTasks int
}

// Agent 把拦截请求交给 Coordinator，并作为请求的 Lifetime 持有后台任务。
type Agent struct {
	manager     *cache.Manager
	fetcher     proxy.Fetcher
	hub         *notify.Hub
	manifest    []cache.Key
	concurrency int
	version     string
	logger      *logrus.Logger
	coordinator *proxy.Coordinator

	base   context.Context
	cancel context.CancelFunc

	// gate 的读锁覆盖每次拦截，Close 持写锁确保不再登记新任务。
	gate  sync.RWMutex
	tasks conc.WaitGroup

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	installedAt time.Time
	activatedAt time.Time
	claimed     int
	lastSeed    *cache.SeedReport
	pending     int
}

// New 创建 agent；Manager、Fetcher 与 Hub 不能为空。
func New(opts Options) (*Agent, error) {
	if opts.Manager == nil {
		return nil, errors.New("store manager is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Hub == nil {
		return nil, errors.New("notification hub is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	base, cancel := context.WithCancel(context.Background())
	coordinator, err := proxy.NewCoordinator(proxy.CoordinatorOptions{
		Store:      opts.Manager,
		Fetcher:    opts.Fetcher,
		Notifier:   opts.Hub,
		Logger:     logger,
		Background: base,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &Agent{
		manager:     opts.Manager,
		fetcher:     opts.Fetcher,
		hub:         opts.Hub,
		manifest:    append([]cache.Key(nil), opts.Manifest...),
		concurrency: opts.Concurrency,
		version:     opts.Version,
		logger:      logger,
		coordinator: coordinator,
		base:        base,
		cancel:      cancel,
		state:       StateNew,
	}, nil
}

// Install 预缓存清单中的资源。缓存不可用时返回错误且 agent 回到初始状态；
// 成功后直接标记为可立即激活，不等待旧代际退出。
func (a *Agent) Install(ctx context.Context) (cache.SeedReport, error) {
	a.mu.Lock()
	switch a.state {
	case StateClosed:
		a.mu.Unlock()
		return cache.SeedReport{}, ErrClosed
	case StateNew:
		a.state = StateInstalling
	default:
		state := a.state
		a.mu.Unlock()
		return cache.SeedReport{}, fmt.Errorf("install in state %s", state)
	}
	a.mu.Unlock()

	started := time.Now()
	fetch := func(ctx context.Context, key cache.Key) (*cache.Response, error) {
		return proxy.FetchKey(ctx, a.fetcher, key)
	}
	report, err := a.manager.Seed(ctx, a.manifest, fetch, a.concurrency)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.state == StateInstalling {
			a.state = StateNew
		}
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action": "seed",
			"store":  a.manager.Name(),
		}).Error("install_failed")
		return report, fmt.Errorf("install %s: %w", a.manager.Name(), err)
	}
	if a.state != StateInstalling {
		return report, ErrClosed
	}

	a.state = StateInstalled
	a.skipWaiting = true
	a.installedAt = time.Now().UTC()
	a.lastSeed = &report
	a.logger.WithFields(logrus.Fields{
		"action":     "seed",
		"store":      a.manager.Name(),
		"seeded":     len(report.Seeded),
		"present":    len(report.Present),
		"failed":     len(report.Failed),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("install_complete")
	return report, nil
}

// Activate 让当前代际接管所有已连接客户端，返回接管数量。
func (a *Agent) Activate(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateClosed:
		return 0, ErrClosed
	case StateActivated:
		return a.claimed, nil
	case StateInstalled:
	default:
		return 0, ErrNotInstalled
	}

	a.claimed = a.hub.Claim(a.manager.Name())
	a.state = StateActivated
	a.activatedAt = time.Now().UTC()
	a.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"store":   a.manager.Name(),
		"claimed": a.claimed,
	}).Info("agent_activated")
	return a.claimed, nil
}

// Intercept 处理一次拦截请求，agent 作为事件的 Lifetime 持有后台任务。
func (a *Agent) Intercept(ctx context.Context, ev proxy.Event) (*proxy.Outcome, error) {
	a.gate.RLock()
	defer a.gate.RUnlock()
	if a.State() == StateClosed {
		return nil, ErrClosed
	}
	ev.Lifetime = a
	return a.coordinator.Handle(ctx, ev)
}

// WaitUntil 登记后台任务，Close 会等待其完成；任务 panic 在 Close 时记录。
func (a *Agent) WaitUntil(task func()) {
	a.mu.Lock()
	a.pending++
	a.mu.Unlock()
	a.tasks.Go(func() {
		defer func() {
			a.mu.Lock()
			a.pending--
			a.mu.Unlock()
		}()
		task()
	})
}

// State 返回当前生命周期阶段。
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Status 返回诊断快照。
func (a *Agent) Status() Status {
	a.mu.RLock()
	status := Status{
		State:        a.state,
		Store:        a.manager.Name(),
		Version:      a.version,
		SkipWaiting:  a.skipWaiting,
		InstalledAt:  a.installedAt,
		ActivatedAt:  a.activatedAt,
		Claimed:      a.claimed,
		PendingTasks: a.pending,
	}
	if a.lastSeed != nil {
		report := *a.lastSeed
		status.LastSeed = &report
	}
	a.mu.RUnlock()
	status.Clients = a.hub.Clients()
	return status
}

// Close 拒绝新请求，等待全部后台任务结束后关闭缓存。
// 源站无响应且未配置超时时会一直等待，需要期限时使用 Shutdown。
func (a *Agent) Close() error {
	return a.Shutdown(context.Background())
}

// Shutdown 与 Close 相同，但 ctx 结束时取消仍在进行的网络请求，
// 被取消的回写只记录日志，不写入缓存。
func (a *Agent) Shutdown(ctx context.Context) error {
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	a.gate.Lock()
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		a.gate.Unlock()
		return nil
	}
	a.state = StateClosed
	a.mu.Unlock()
	a.gate.Unlock()

	if recovered := a.tasks.WaitAndRecover(); recovered != nil {
		a.logger.WithError(recovered.AsError()).WithFields(logrus.Fields{
			"action": "write_through",
			"store":  a.manager.Name(),
		}).Error("background_task_panic")
	}
	a.cancel()
	return a.manager.Close()
}
