package market

import (
	"context"
	"time"
)

// RetryPolicy 描述数据源的有界重试策略：固定尝试次数 + 指数退避。
// sleepFn 可注入假时钟用于测试。
type RetryPolicy struct {
	Attempts   int
	InitialGap time.Duration
	MaxGap     time.Duration

	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(attempts int, initialGap, maxGap time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	if initialGap <= 0 {
		initialGap = time.Second
	}
	if maxGap < initialGap {
		maxGap = initialGap
	}
	return RetryPolicy{Attempts: attempts, InitialGap: initialGap, MaxGap: maxGap}
}

// WithSleepFn 返回替换了等待函数的副本（测试用）。
func (p RetryPolicy) WithSleepFn(fn func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleepFn = fn
	return p
}

// Do 执行 fn 直到成功或尝试次数耗尽，每次失败后按退避间隔等待。
// ctx 取消会立刻中断等待并返回 ctx 错误。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleepFn
	if sleep == nil {
		sleep = sleepWithContext
	}
	gap := p.InitialGap
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, gap); err != nil {
			return err
		}
		gap *= 2
		if p.MaxGap > 0 && gap > p.MaxGap {
			gap = p.MaxGap
		}
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
