package crawlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/Repagination/internal/metrics"
)

// maxCleanFailures 清理连续失败达到该次数后销毁标签页
const maxCleanFailures = 2

// PagePool 浏览器标签页池
// 每次获取借出一个标签页,释放时重置到about:blank后归还
type PagePool struct {
	browser         *rod.Browser
	resourceMonitor *ResourceMonitor

	pages          []*rod.Page
	availablePages chan *rod.Page
	cleanFailures  map[*rod.Page]int

	mu     sync.Mutex
	closed bool
}

// NewPagePool 创建标签页池
func NewPagePool(browser *rod.Browser, resourceMonitor *ResourceMonitor) *PagePool {
	return &PagePool{
		browser:         browser,
		resourceMonitor: resourceMonitor,
		availablePages:  make(chan *rod.Page, 32),
		cleanFailures:   make(map[*rod.Page]int),
	}
}

// AcquirePage 获取可用标签页,达到上限时阻塞等待
func (pp *PagePool) AcquirePage(ctx context.Context) (*rod.Page, error) {
	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		return nil, fmt.Errorf("标签页池已关闭")
	}
	currentSize := len(pp.pages)
	pp.mu.Unlock()

	select {
	case page, ok := <-pp.availablePages:
		if ok {
			return page, nil
		}
		return nil, fmt.Errorf("标签页池已关闭")
	default:
	}

	maxSize := pp.resourceMonitor.CalculateMaxPages()
	canCreate, reason := pp.resourceMonitor.CheckResourceAvailability()
	if currentSize >= maxSize || !canCreate {
		if !canCreate && currentSize > 0 {
			log.Warn().Msgf("资源不足,等待空闲标签页: %s", reason)
		}
		if currentSize > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case page, ok := <-pp.availablePages:
				if !ok {
					return nil, fmt.Errorf("标签页池已关闭")
				}
				return page, nil
			}
		}
	}

	page, err := pp.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Error().Err(err).Msg("创建标签页失败,浏览器可能已崩溃")
		return nil, fmt.Errorf("%w: %v", ErrBrowserCrashed, err)
	}

	pp.mu.Lock()
	pp.pages = append(pp.pages, page)
	currentSize = len(pp.pages)
	pp.mu.Unlock()
	metrics.BrowserPages.Set(float64(currentSize))

	log.Debug().Msgf("创建新标签页,当前标签页数: %d, 最大限制: %d", currentSize, maxSize)
	return page, nil
}

// ReleasePage 重置标签页并归还
func (pp *PagePool) ReleasePage(page *rod.Page) {
	if page == nil {
		return
	}

	pp.mu.Lock()
	closed := pp.closed
	pp.mu.Unlock()
	if closed {
		_ = page.Close()
		return
	}

	if err := pp.cleanPage(page); err != nil {
		pp.mu.Lock()
		pp.cleanFailures[page]++
		failures := pp.cleanFailures[page]
		pp.mu.Unlock()

		log.Warn().Err(err).Msgf("清理标签页失败 (第%d次)", failures)
		if failures >= maxCleanFailures {
			pp.destroyPage(page)
			return
		}
	} else {
		pp.mu.Lock()
		delete(pp.cleanFailures, page)
		pp.mu.Unlock()
	}

	pp.mu.Lock()
	if pp.closed {
		pp.mu.Unlock()
		_ = page.Close()
		return
	}
	select {
	case pp.availablePages <- page:
		pp.mu.Unlock()
		return
	default:
	}
	pp.mu.Unlock()
	pp.destroyPage(page)
}

// cleanPage 导航到空白页,丢弃上一次获取的文档
func (pp *PagePool) cleanPage(page *rod.Page) error {
	if err := page.Navigate("about:blank"); err != nil {
		return fmt.Errorf("重置标签页失败: %w", err)
	}
	return nil
}

// destroyPage 关闭并移除标签页
func (pp *PagePool) destroyPage(page *rod.Page) {
	pp.mu.Lock()
	for i, p := range pp.pages {
		if p == page {
			pp.pages = append(pp.pages[:i], pp.pages[i+1:]...)
			break
		}
	}
	delete(pp.cleanFailures, page)
	size := len(pp.pages)
	pp.mu.Unlock()

	if err := page.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭标签页失败")
	}
	metrics.BrowserPages.Set(float64(size))
	log.Debug().Msgf("销毁标签页,当前标签页数: %d", size)
}

// CurrentSize 当前标签页数
func (pp *PagePool) CurrentSize() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.pages)
}

// MaxSize 当前允许的最大标签页数
func (pp *PagePool) MaxSize() int {
	return pp.resourceMonitor.CalculateMaxPages()
}

// Close 关闭所有标签页
func (pp *PagePool) Close() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.closed {
		return nil
	}

	for _, page := range pp.pages {
		if err := page.Close(); err != nil {
			log.Warn().Err(err).Msg("关闭标签页失败")
		}
	}

	pp.pages = nil
	close(pp.availablePages)
	pp.closed = true
	metrics.BrowserPages.Set(0)

	log.Debug().Msg("标签页池已关闭")
	return nil
}
