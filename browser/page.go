package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/internal/retry"
	"github.com/BaSui01/otpflow/types"
)

// Page 单个浏览器标签页
// 所有操作带独立超时；SwitchFrame 之后查询在目标 iframe 内执行。
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	engine  *Engine
	config  Config
	retryer retry.Retryer
	logger  *zap.Logger

	mu        sync.Mutex
	frameRoot *cdp.Node // 非 nil 时查询以该 iframe 为根
	closeOnce sync.Once
}

// queryOpts 构造当前查询根下的 chromedp 查询选项
func (p *Page) queryOpts(extra ...chromedp.QueryOption) []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	p.mu.Lock()
	if p.frameRoot != nil {
		opts = append(opts, chromedp.FromNode(p.frameRoot))
	}
	p.mu.Unlock()
	return append(opts, extra...)
}

// Navigate 导航到 URL 并等待 body 就绪
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("navigating", zap.String("url", url))

	err := retry.WithTimeout(ctx, p.config.NavigateTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	})
	if err != nil {
		if retry.IsDeadline(err) {
			return types.NewError(types.ErrNavigationTimeout,
				fmt.Sprintf("navigation to %s did not finish within %s", url, p.config.NavigateTimeout)).
				WithCause(err).
				WithRetryable(true)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	// 导航后查询根回到主文档
	p.mu.Lock()
	p.frameRoot = nil
	p.mu.Unlock()

	return nil
}

// Title 获取页面标题
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx, chromedp.Title(&title))
	})
	if err != nil {
		return "", fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// Location 获取当前 URL
func (p *Page) Location(ctx context.Context) (string, error) {
	var url string
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx, chromedp.Location(&url))
	})
	if err != nil {
		return "", fmt.Errorf("get location: %w", err)
	}
	return url, nil
}

// Text 获取匹配元素的文本内容
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx, chromedp.Text(selector, &text, p.queryOpts()...))
	})
	if err != nil {
		return "", fmt.Errorf("text %s: %w", selector, err)
	}
	return text, nil
}

// BodyText 获取页面可见文本（block page 检测用）
func (p *Page) BodyText(ctx context.Context) (string, error) {
	var text string
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx,
			chromedp.Text("body", &text, chromedp.ByQuery))
	})
	if err != nil {
		return "", fmt.Errorf("body text: %w", err)
	}
	return text, nil
}

// Click 点击匹配元素
func (p *Page) Click(ctx context.Context, selector string) error {
	p.logger.Debug("clicking", zap.String("selector", selector))

	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx, chromedp.Click(selector, p.queryOpts(chromedp.NodeVisible)...))
	})
	if err != nil {
		if retry.IsDeadline(err) {
			return types.NewError(types.ErrTimeout,
				fmt.Sprintf("click %s timed out", selector)).WithCause(err)
		}
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// SendKeys 清空并输入文本
func (p *Page) SendKeys(ctx context.Context, selector, value string) error {
	p.logger.Debug("typing", zap.String("selector", selector))

	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx,
			chromedp.Clear(selector, p.queryOpts()...),
			chromedp.SendKeys(selector, value, p.queryOpts()...),
		)
	})
	if err != nil {
		if retry.IsDeadline(err) {
			return types.NewError(types.ErrTimeout,
				fmt.Sprintf("typing into %s timed out", selector)).WithCause(err)
		}
		return fmt.Errorf("send keys %s: %w", selector, err)
	}
	return nil
}

// Screenshot 截取整页截图（JPEG, quality 90）
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx, chromedp.FullScreenshot(&buf, 90))
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// SwitchFrame 将查询根切换到指定 iframe 的 content document
func (p *Page) SwitchFrame(ctx context.Context, selector string) error {
	p.logger.Debug("switching frame", zap.String("selector", selector))

	var nodes []*cdp.Node
	err := retry.WithTimeout(ctx, p.config.StepTimeout, func(opCtx context.Context) error {
		return chromedp.Run(p.ctx,
			chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
		)
	})
	if err != nil {
		return fmt.Errorf("locate frame %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return types.NewError(types.ErrFrameNotFound,
			fmt.Sprintf("iframe %s not present", selector)).
			WithRetryable(true)
	}

	p.mu.Lock()
	p.frameRoot = nodes[0]
	p.mu.Unlock()
	return nil
}

// MainFrame 查询根回到主文档
func (p *Page) MainFrame() {
	p.mu.Lock()
	p.frameRoot = nil
	p.mu.Unlock()
}

// Close 关闭页面并归还引擎槽位，可安全重复调用
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.logger.Debug("closing page")
		p.cancel()
		if p.engine != nil {
			p.engine.release()
		}
	})
	return nil
}
