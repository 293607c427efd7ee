package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// DefaultMaxRetries 默认重试次数
const DefaultMaxRetries = 5

// RetryFetcher 为任意获取器增加重试
// 退避时间随尝试次数线性增长
type RetryFetcher struct {
	inner      Fetcher
	maxRetries int
	backoff    time.Duration
}

// NewRetryFetcher 包装获取器,maxRetries<0时使用默认值
func NewRetryFetcher(inner Fetcher, maxRetries int, backoff time.Duration) *RetryFetcher {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryFetcher{
		inner:      inner,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Type 被包装获取器的类型
func (rf *RetryFetcher) Type() string {
	return rf.inner.Type()
}

// Close 关闭被包装的获取器
func (rf *RetryFetcher) Close() error {
	return rf.inner.Close()
}

// Fetch 获取页面,失败时重试
func (rf *RetryFetcher) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchedPage, error) {
	var lastErr error
	for attempt := 0; attempt <= rf.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.WithLabelValues(rf.inner.Type()).Inc()
			utils.Warnf("获取失败,第%d次重试 [%s]: %v", attempt, pageURL, lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(rf.backoff * time.Duration(attempt)):
			}
		}

		page, err := rf.inner.Fetch(ctx, pageURL, opts)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w (%d次): %w", ErrMaxRetriesReached, rf.maxRetries, lastErr)
}

// retryable 上下文取消和不支持的协议不重试
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUnsupportedScheme),
		errors.Is(err, ErrFetcherClosed),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
