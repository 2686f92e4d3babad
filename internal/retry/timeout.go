package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline 操作超时错误
var ErrDeadline = errors.New("operation deadline exceeded")

// IsDeadline 判断是否为超时错误
func IsDeadline(err error) bool {
	return errors.Is(err, ErrDeadline) || errors.Is(err, context.DeadlineExceeded)
}

// WithTimeout 在限定时间内执行 fn，超时或 ctx 取消时立即返回
// fn 在独立 goroutine 中执行；即使底层调用卡住，调用方也能按时拿到超时错误
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(opCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %v", ErrDeadline, d, err)
		}
		return err
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrDeadline, d)
		}
		return opCtx.Err()
	}
}
