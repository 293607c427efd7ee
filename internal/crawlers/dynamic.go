package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

var (
	ErrBrowserCrashed    = errors.New("浏览器崩溃")
	ErrMaxRetriesReached = errors.New("已达最大重试次数")
)

// DynamicFetcher 动态获取器(使用go-rod)
// 在浏览器中渲染页面后读取DOM,标签页由PagePool管理
type DynamicFetcher struct {
	config         models.CrawlConfig
	headerProvider models.HeaderProvider
	timeout        time.Duration

	mu              sync.Mutex
	browser         *rod.Browser
	pagePool        *PagePool
	resourceMonitor *ResourceMonitor
	closed          bool
}

// NewDynamicFetcher 创建动态获取器,浏览器在第一次获取时启动
func NewDynamicFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *DynamicFetcher {
	return &DynamicFetcher{
		config:         config,
		headerProvider: headerProvider,
		timeout:        fetchTimeout(config),
	}
}

// Type 获取器类型
func (df *DynamicFetcher) Type() string {
	return string(models.FetcherRod)
}

// ensureBrowser 启动浏览器和标签页池
func (df *DynamicFetcher) ensureBrowser() (*PagePool, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.closed {
		return nil, ErrFetcherClosed
	}
	if df.pagePool != nil {
		return df.pagePool, nil
	}

	l := launcher.New().Headless(df.config.Headless)
	// 跳过TLS证书验证,关闭图片和插件
	l = l.Set("ignore-certificate-errors").
		Set("blink-settings", "imagesEnabled=false").
		Set("disable-plugins")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	df.resourceMonitor = NewResourceMonitor(DefaultResourceMonitorConfig(df.config.BrowserTabs))
	df.resourceMonitor.StartMonitoring(time.Second)

	status := df.resourceMonitor.GetMemoryStatus()
	utils.Debugf("浏览器已启动: %s (可用内存 %dMB, 压力=%s)",
		controlURL, status.AvailableMemory/(1024*1024), status.MemoryPressure)

	df.browser = browser
	df.pagePool = NewPagePool(browser, df.resourceMonitor)
	return df.pagePool, nil
}

// Fetch 在浏览器标签页中加载页面
// 返回的FetchedPage.Release把标签页归还给池
func (df *DynamicFetcher) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (page *FetchedPage, err error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("无效的URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "data":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}

	pool, err := df.ensureBrowser()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(df.Type()).Observe(time.Since(start).Seconds())
	}()

	tab, err := pool.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}

	var cleanups []func()
	release := func() {
		for _, fn := range cleanups {
			runCleanup(fn)
		}
		pool.ReleasePage(tab)
	}

	// rod操作失败时会panic,统一转换为错误
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: 页面获取panic: %v", ErrBrowserCrashed, r)
			utils.Errorf("捕获panic: URL=%s, 错误=%v", pageURL, r)
		}
		if err != nil {
			release()
			page = nil
		}
	}()

	p := tab.Context(ctx).Timeout(df.timeout)

	if err := (proto.EmulationSetScriptExecutionDisabled{Value: !opts.AllowScripts}).Call(p); err != nil {
		utils.Warnf("设置脚本执行开关失败: %v", err)
	}

	if headers := df.extraHeaders(opts); len(headers) > 0 {
		cleanup, err := p.SetExtraHeaders(headers)
		if err != nil {
			return nil, fmt.Errorf("设置请求头失败: %w", err)
		}
		cleanups = append(cleanups, cleanup)
	}

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("导航失败 [%s]: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("等待页面加载失败 [%s]: %w", pageURL, err)
	}
	if df.config.WaitTime > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(df.config.WaitTime) * time.Second):
		}
	}

	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("读取页面信息失败: %w", err)
	}
	content, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("读取页面HTML失败: %w", err)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, pageURL)
	}

	finalURL := info.URL
	if finalURL == "" {
		finalURL = pageURL
	}
	doc, err := dom.ParseString(content, finalURL)
	if err != nil {
		return nil, err
	}

	utils.Debugf("页面加载完成: %s", finalURL)
	return NewFetchedPage(finalURL, doc, 0, release), nil
}

// runCleanup 执行清理函数,上下文已取消时rod可能panic
func runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			utils.Debugf("清理标签页设置失败: %v", r)
		}
	}()
	fn()
}

// extraHeaders 转换为rod的扁平键值列表
func (df *DynamicFetcher) extraHeaders(opts FetchOptions) []string {
	var dict []string
	if df.headerProvider != nil {
		headers, err := df.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
		} else {
			for name, values := range headers {
				if len(values) > 0 {
					dict = append(dict, name, values[0])
				}
			}
		}
	}
	if opts.Referer != "" {
		dict = append(dict, "Referer", opts.Referer)
	}
	return dict
}

// Close 关闭标签页池和浏览器
func (df *DynamicFetcher) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.closed {
		return nil
	}
	df.closed = true

	if df.pagePool != nil {
		_ = df.pagePool.Close()
	}
	if df.resourceMonitor != nil {
		df.resourceMonitor.StopMonitoring()
	}
	if df.browser != nil {
		if err := df.browser.Close(); err != nil {
			return fmt.Errorf("关闭浏览器失败: %w", err)
		}
		utils.Debugf("浏览器已关闭")
	}
	return nil
}
