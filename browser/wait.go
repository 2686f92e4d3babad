package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/internal/retry"
	"github.com/BaSui01/otpflow/types"
)

// WaitVisible 等待选择器可见，按指数退避重试
// 返回实际尝试次数（指标用）。单次尝试超时 WaitAttemptTimeout，
// 全部尝试耗尽后返回 SELECTOR_NOT_FOUND。
func (p *Page) WaitVisible(ctx context.Context, selector string) (int, error) {
	p.logger.Debug("waiting for selector", zap.String("selector", selector))

	attempts, err := p.retryer.DoCount(ctx, func() error {
		return retry.WithTimeout(ctx, p.config.WaitAttemptTimeout, func(opCtx context.Context) error {
			return chromedp.Run(p.ctx, chromedp.WaitVisible(selector, p.queryOpts()...))
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return attempts, fmt.Errorf("wait for %s: %w", selector, ctx.Err())
		}
		return attempts, types.NewError(types.ErrSelectorNotFound,
			fmt.Sprintf("selector %s not visible after %d attempts", selector, attempts)).
			WithCause(err)
	}

	if attempts > 1 {
		p.logger.Debug("selector appeared after retries",
			zap.String("selector", selector),
			zap.Int("attempts", attempts))
	}
	return attempts, nil
}
