package crawlers

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// ChromeFetcher 基于chromedp的浏览器获取器
// 每次获取打开一个新标签页,Release时关闭
type ChromeFetcher struct {
	config         models.CrawlConfig
	headerProvider models.HeaderProvider
	timeout        time.Duration

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromeFetcher 创建chromedp获取器,浏览器在第一次获取时启动
func NewChromeFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *ChromeFetcher {
	return &ChromeFetcher{
		config:         config,
		headerProvider: headerProvider,
		timeout:        fetchTimeout(config),
	}
}

// Type 获取器类型
func (cf *ChromeFetcher) Type() string {
	return string(models.FetcherChromedp)
}

// ensureBrowser 启动共享的浏览器上下文
func (cf *ChromeFetcher) ensureBrowser() (context.Context, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.closed {
		return nil, ErrFetcherClosed
	}
	if cf.browserCtx != nil {
		return cf.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cf.config.Headless),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-plugins", true),
		chromedp.NoSandbox,
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// 启动浏览器进程
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	cf.allocCancel = allocCancel
	cf.browserCtx = browserCtx
	cf.browserCancel = browserCancel
	utils.Debugf("chromedp浏览器已启动")
	return browserCtx, nil
}

// Fetch 在新标签页中加载页面
func (cf *ChromeFetcher) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchedPage, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("无效的URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "data":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}

	browserCtx, err := cf.ensureBrowser()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(cf.Type()).Observe(time.Since(start).Seconds())
	}()

	// 先用标签页自身的上下文创建目标,超时上下文只作用于本次动作
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: %v", ErrBrowserCrashed, err)
	}
	runCtx, runCancel := context.WithTimeout(tabCtx, cf.timeout)
	defer runCancel()
	stop := context.AfterFunc(ctx, runCancel)
	defer stop()

	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetScriptExecutionDisabled(!opts.AllowScripts),
	}
	if headers := cf.extraHeaders(opts); len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}

	var (
		finalURL string
		content  string
	)
	actions = append(actions, chromedp.Navigate(pageURL))
	if cf.config.WaitTime > 0 {
		actions = append(actions, chromedp.Sleep(time.Duration(cf.config.WaitTime)*time.Second))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &content, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("获取页面失败 [%s]: %w", pageURL, err)
	}
	if content == "" {
		tabCancel()
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, pageURL)
	}
	if finalURL == "" {
		finalURL = pageURL
	}

	doc, err := dom.ParseString(content, finalURL)
	if err != nil {
		tabCancel()
		return nil, err
	}

	utils.Debugf("页面加载完成: %s", finalURL)
	return NewFetchedPage(finalURL, doc, 0, tabCancel), nil
}

func (cf *ChromeFetcher) extraHeaders(opts FetchOptions) network.Headers {
	headers := network.Headers{}
	if cf.headerProvider != nil {
		h, err := cf.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
		} else {
			for name, values := range h {
				if len(values) > 0 {
					headers[name] = values[0]
				}
			}
		}
	}
	if opts.Referer != "" {
		headers["Referer"] = opts.Referer
	}
	return headers
}

// Close 关闭浏览器
func (cf *ChromeFetcher) Close() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.closed {
		return nil
	}
	cf.closed = true

	if cf.browserCancel != nil {
		cf.browserCancel()
	}
	if cf.allocCancel != nil {
		cf.allocCancel()
	}
	return nil
}
