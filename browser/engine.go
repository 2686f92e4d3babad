package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/otpflow/internal/retry"
	"github.com/BaSui01/otpflow/types"
)

// Engine 浏览器引擎：持有 ExecAllocator，负责页面分配与并发上限
type Engine struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	config      Config
	slots       *semaphore.Weighted
	logger      *zap.Logger
	mu          sync.Mutex
	active      int64
	closed      bool

	// OnCount 存活页面数变化回调（分配与关闭都会触发），指标用
	OnCount func(n int64)
}

// NewEngine 创建浏览器引擎
func NewEngine(config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultConfig().MaxPages
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), stealthOptions(config)...)

	logger.Info("browser engine initialized",
		zap.Bool("headless", config.Headless),
		zap.Int64("max_pages", config.MaxPages),
		zap.Int("viewport_w", config.ViewportWidth),
		zap.Int("viewport_h", config.ViewportHeight),
	)

	return &Engine{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		config:      config,
		slots:       semaphore.NewWeighted(config.MaxPages),
		logger:      logger.With(zap.String("component", "browser_engine")),
	}
}

// NewPage 分配一个新页面（独立浏览器实例）
// 达到 MaxPages 上限时立即失败，不排队等待。
func (e *Engine) NewPage(ctx context.Context) (*Page, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, types.NewError(types.ErrServiceUnavailable, "browser engine is closed")
	}
	e.mu.Unlock()

	if !e.slots.TryAcquire(1) {
		return nil, types.NewError(types.ErrSessionLimit,
			fmt.Sprintf("page limit reached (%d live pages)", e.config.MaxPages)).
			WithRetryable(true)
	}

	pageCtx, pageCancel := chromedp.NewContext(e.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			e.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// 启动浏览器并注册 evasion 脚本
	err := chromedp.Run(pageCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		pageCancel()
		e.slots.Release(1)
		return nil, types.NewError(types.ErrBrowserStartFailed, "failed to start browser").
			WithCause(err)
	}

	e.mu.Lock()
	e.active++
	n := e.active
	e.mu.Unlock()
	if e.OnCount != nil {
		e.OnCount(n)
	}
	e.logger.Debug("page allocated")

	policy := &retry.Policy{
		MaxRetries:   e.config.WaitMaxRetries,
		InitialDelay: e.config.WaitInitialDelay,
		MaxDelay:     e.config.WaitMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}

	return &Page{
		ctx:     pageCtx,
		cancel:  pageCancel,
		engine:  e,
		config:  e.config,
		retryer: retry.NewBackoffRetryer(policy, e.logger),
		logger:  e.logger.With(zap.String("component", "browser_page")),
	}, nil
}

// ActivePages 当前存活页面数
func (e *Engine) ActivePages() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// release 归还一个页面槽位，由 Page.Close 调用
func (e *Engine) release() {
	e.slots.Release(1)
	e.mu.Lock()
	if e.active > 0 {
		e.active--
	}
	n := e.active
	e.mu.Unlock()
	if e.OnCount != nil {
		e.OnCount(n)
	}
}

// Close 关闭引擎，之后 NewPage 会失败。已分配的页面不受影响。
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Info("closing browser engine")
	e.allocCancel()
	return nil
}
