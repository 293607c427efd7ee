package crawlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/models"
)

var (
	ErrUnsupportedScheme = errors.New("不支持的URL协议")
	ErrEmptyDocument     = errors.New("获取到的文档为空")
	ErrFetcherClosed     = errors.New("获取器已关闭")
)

// FetchOptions 单次获取选项
type FetchOptions struct {
	Referer      string // 宿主文档地址
	AllowScripts bool   // 浏览器获取时是否执行脚本
}

// FetchedPage 一次获取的结果
// Release 释放临时获取对象(浏览器标签页),可重复调用
type FetchedPage struct {
	URL        string // 重定向后的最终地址
	Doc        *dom.Document
	StatusCode int

	release func()
	once    sync.Once
}

// NewFetchedPage 构造获取结果,release可以为nil
func NewFetchedPage(finalURL string, doc *dom.Document, status int, release func()) *FetchedPage {
	return &FetchedPage{
		URL:        finalURL,
		Doc:        doc,
		StatusCode: status,
		release:    release,
	}
}

// Release 释放临时获取对象
func (p *FetchedPage) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Fetcher 页面获取器
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchedPage, error)
	Close() error
	Type() string
}

// NewFetcher 按配置创建获取器,外层包装重试策略
func NewFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) (Fetcher, error) {
	var inner Fetcher
	switch models.FetcherKind(config.Fetcher) {
	case models.FetcherStatic, "":
		inner = NewStaticFetcher(config, headerProvider)
	case models.FetcherRod:
		inner = NewDynamicFetcher(config, headerProvider)
	case models.FetcherChromedp:
		inner = NewChromeFetcher(config, headerProvider)
	default:
		return nil, fmt.Errorf("未知的获取方式: %s", config.Fetcher)
	}

	return NewRetryFetcher(inner, config.MaxRetries, time.Second), nil
}

// fetchTimeout 单页超时,未配置时使用30秒
func fetchTimeout(config models.CrawlConfig) time.Duration {
	if config.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(config.Timeout) * time.Second
}
