package crawlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyFetcher struct {
	failures int
	calls    int
	err      error
}

func (f *flakyFetcher) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchedPage, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return NewFetchedPage(pageURL, nil, 200, nil), nil
}

func (f *flakyFetcher) Close() error { return nil }
func (f *flakyFetcher) Type() string { return "flaky" }

func TestRetryFetcherRecovers(t *testing.T) {
	inner := &flakyFetcher{failures: 3, err: errors.New("连接被重置")}
	rf := NewRetryFetcher(inner, DefaultMaxRetries, time.Millisecond)

	page, err := rf.Fetch(context.Background(), "http://example.com/2", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/2", page.URL)
	assert.Equal(t, 4, inner.calls)
}

func TestRetryFetcherGivesUpAfterFiveRetries(t *testing.T) {
	inner := &flakyFetcher{failures: 100, err: errors.New("超时")}
	rf := NewRetryFetcher(inner, DefaultMaxRetries, time.Millisecond)

	_, err := rf.Fetch(context.Background(), "http://example.com/2", FetchOptions{})
	assert.ErrorIs(t, err, ErrMaxRetriesReached)
	assert.Equal(t, 6, inner.calls)
}

func TestRetryFetcherDoesNotRetryUnsupportedScheme(t *testing.T) {
	inner := &flakyFetcher{failures: 100, err: ErrUnsupportedScheme}
	rf := NewRetryFetcher(inner, DefaultMaxRetries, time.Millisecond)

	_, err := rf.Fetch(context.Background(), "ftp://example.com", FetchOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryFetcherStopsOnCancel(t *testing.T) {
	inner := &flakyFetcher{failures: 100, err: errors.New("超时")}
	rf := NewRetryFetcher(inner, DefaultMaxRetries, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rf.Fetch(ctx, "http://example.com/2", FetchOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestResourceMonitorBounds(t *testing.T) {
	rm := NewResourceMonitor(DefaultResourceMonitorConfig(3))
	n := rm.CalculateMaxPages()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)

	rm.StartMonitoring(10 * time.Millisecond)
	rm.StartMonitoring(10 * time.Millisecond)
	rm.StopMonitoring()
	assert.NotEmpty(t, rm.GetMemoryStatus().MemoryPressure)
}
