// Package flow implements the login/OTP-request procedure against the
// target site. The procedure is linear: navigate, detect a block page,
// open the login dialog, enter the login iframe, pick a delivery channel,
// submit the identifier, confirm the OTP was sent.
package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

// Step 流程步骤名
const (
	StepNavigate   = "navigate"
	StepBlockCheck = "block_check"
	StepLogin      = "login"
	StepFrame      = "frame"
	StepChannel    = "channel"
	StepSubmit     = "submit"
)

// Pager 流程驱动的页面操作面，由 *browser.Page 实现
// 测试中用脚本化的 fake 替代。
type Pager interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, value string) error
	SwitchFrame(ctx context.Context, selector string) error
	Close() error
}

// Runner 执行 OTP 请求流程
type Runner struct {
	mu     sync.RWMutex
	target Target
	logger *zap.Logger

	// OnStep 每步完成后的回调（成功与否都会触发），指标采集用
	OnStep func(step string, d time.Duration, attempts int, err error)
}

// NewRunner 创建流程执行器
func NewRunner(target Target, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		target: target,
		logger: logger.With(zap.String("component", "otp_flow")),
	}
}

// SetTarget 替换站点画像，选择器热更新后调用
// 进行中的流程继续使用启动时的快照，新流程使用新画像。
func (r *Runner) SetTarget(target Target) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

// Target 返回当前站点画像的快照
func (r *Runner) Target() Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target
}

// Run 在给定页面上执行完整流程
// 失败时返回的 *types.Error 带有失败步骤；页面的关闭由调用方负责。
func (r *Runner) Run(ctx context.Context, page Pager, req types.OTPRequest) (*types.OTPResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &types.OTPResult{
		Channel:   req.Channel,
		StartedAt: start,
	}

	target := r.Target()
	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{StepNavigate, func(ctx context.Context) (int, error) {
			return 0, page.Navigate(ctx, target.LoginURL)
		}},
		{StepBlockCheck, func(ctx context.Context) (int, error) {
			return 0, r.checkBlocked(ctx, page, target.BlockMarkers)
		}},
		{StepLogin, func(ctx context.Context) (int, error) {
			return r.clickWhenVisible(ctx, page, target.Selectors.LoginButton)
		}},
		{StepFrame, func(ctx context.Context) (int, error) {
			return r.enterFrame(ctx, page, target.Selectors.LoginFrame)
		}},
		{StepChannel, func(ctx context.Context) (int, error) {
			return r.chooseChannel(ctx, page, target.Selectors, req)
		}},
		{StepSubmit, func(ctx context.Context) (int, error) {
			return r.submit(ctx, page, target.Selectors)
		}},
	}

	for _, step := range steps {
		stepStart := time.Now()
		attempts, err := step.fn(ctx)
		elapsed := time.Since(stepStart)

		if r.OnStep != nil {
			r.OnStep(step.name, elapsed, attempts, err)
		}

		timing := types.StepTiming{Step: step.name, Duration: elapsed, Attempts: attempts}
		result.Timings = append(result.Timings, timing)

		if err != nil {
			r.logger.Warn("flow step failed",
				zap.String("step", step.name),
				zap.Duration("elapsed", elapsed),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return nil, stepError(step.name, err)
		}

		r.logger.Debug("flow step done",
			zap.String("step", step.name),
			zap.Duration("elapsed", elapsed),
			zap.Int("attempts", attempts),
		)
	}

	result.Duration = time.Since(start)
	r.logger.Info("otp request flow complete",
		zap.String("channel", string(req.Channel)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// checkBlocked 检查导航后是否落在拒绝访问页
// 命中 block marker 时返回不可重试的 ACCESS_DENIED。
func (r *Runner) checkBlocked(ctx context.Context, page Pager, markers []string) error {
	title, err := page.Title(ctx)
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	body, err := page.BodyText(ctx)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	haystack := strings.ToLower(title + "\n" + body)
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(marker)) {
			return types.NewError(types.ErrAccessDenied,
				fmt.Sprintf("block page detected (marker %q)", marker)).
				WithRetryable(false)
		}
	}
	return nil
}

// clickWhenVisible 等待选择器可见后点击
func (r *Runner) clickWhenVisible(ctx context.Context, page Pager, selector string) (int, error) {
	attempts, err := page.WaitVisible(ctx, selector)
	if err != nil {
		return attempts, err
	}
	return attempts, page.Click(ctx, selector)
}

// enterFrame 等待登录 iframe 出现并切换进入
func (r *Runner) enterFrame(ctx context.Context, page Pager, frame string) (int, error) {
	attempts, err := page.WaitVisible(ctx, frame)
	if err != nil {
		return attempts, err
	}
	return attempts, page.SwitchFrame(ctx, frame)
}

// chooseChannel 在 iframe 内选择渠道并填入标识符
func (r *Runner) chooseChannel(ctx context.Context, page Pager, sel Selectors, req types.OTPRequest) (int, error) {
	var tab, input string
	switch req.Channel {
	case types.ChannelEmail:
		tab, input = sel.EmailTab, sel.EmailInput
	case types.ChannelPhone:
		tab, input = sel.PhoneTab, sel.PhoneInput
	default:
		return 0, types.NewError(types.ErrChannelUnsupported,
			fmt.Sprintf("channel %q not supported", req.Channel))
	}

	total := 0
	if tab != "" {
		attempts, err := r.clickWhenVisible(ctx, page, tab)
		total += attempts
		if err != nil {
			return total, err
		}
	}

	attempts, err := page.WaitVisible(ctx, input)
	total += attempts
	if err != nil {
		return total, err
	}
	return total, page.SendKeys(ctx, input, req.Identifier)
}

// submit 提交请求并等待发送确认
func (r *Runner) submit(ctx context.Context, page Pager, sel Selectors) (int, error) {
	attempts, err := r.clickWhenVisible(ctx, page, sel.SubmitButton)
	if err != nil {
		return attempts, err
	}

	if sel.SentMarker != "" {
		more, err := page.WaitVisible(ctx, sel.SentMarker)
		attempts += more
		if err != nil {
			return attempts, err
		}
	}
	return attempts, nil
}

// stepError 保证返回的错误携带失败步骤
func stepError(step string, err error) error {
	if e, ok := err.(*types.Error); ok {
		if e.Step == "" {
			e.Step = step
		}
		return e
	}
	return types.NewError(types.ErrInternalError, "flow step failed").
		WithCause(err).
		WithStep(step)
}
