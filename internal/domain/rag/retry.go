package rag

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	applog "ragcore/internal/platform/log"
)

// Retry 以指数退避重试 transient 错误，其余错误立即返回。attempts <= 1 时只执行一次。
func Retry(ctx context.Context, attempts int, op func() error) error {
	if attempts <= 1 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		applog.Warn("[RAG] Transient failure, retrying", "error", err, "wait_ms", wait.Milliseconds())
	})
}
