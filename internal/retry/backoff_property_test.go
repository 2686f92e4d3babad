package retry

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// Delay 的性质：任意合法策略、任意重试次数下，
// 延迟都必须落在 [InitialDelay, MaxDelay*1.25] 区间内。
func TestDelayBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.Int64Range(int64(time.Millisecond), int64(time.Second)).Draw(t, "initial"))
		max := time.Duration(rapid.Int64Range(int64(initial), int64(30*time.Second)).Draw(t, "max"))
		multiplier := rapid.Float64Range(1.0, 4.0).Draw(t, "multiplier")
		jitter := rapid.Bool().Draw(t, "jitter")
		attempt := rapid.IntRange(1, 20).Draw(t, "attempt")

		policy := &Policy{
			MaxRetries:   1,
			InitialDelay: initial,
			MaxDelay:     max,
			Multiplier:   multiplier,
			Jitter:       jitter,
		}
		r := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

		delay := r.Delay(attempt)
		if delay < initial {
			t.Fatalf("delay %v below initial %v", delay, initial)
		}
		upper := time.Duration(float64(max) * 1.25) // jitter may overshoot max by 25%
		if delay > upper {
			t.Fatalf("delay %v above bound %v (max %v, jitter %v)", delay, upper, max, jitter)
		}
	})
}

// 无抖动时延迟必须单调不减。
func TestDelayMonotoneProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.Int64Range(int64(time.Millisecond), int64(time.Second)).Draw(t, "initial"))
		multiplier := rapid.Float64Range(1.0, 3.0).Draw(t, "multiplier")

		policy := &Policy{
			MaxRetries:   1,
			InitialDelay: initial,
			MaxDelay:     time.Minute,
			Multiplier:   multiplier,
			Jitter:       false,
		}
		r := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

		prev := time.Duration(0)
		for attempt := 1; attempt <= 10; attempt++ {
			d := r.Delay(attempt)
			if d < prev {
				t.Fatalf("delay decreased at attempt %d: %v -> %v", attempt, prev, d)
			}
			prev = d
		}
	})
}
