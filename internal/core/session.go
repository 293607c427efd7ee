package core

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/RecoveryAshes/Repagination/internal/crawlers"
	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/locator"
	"github.com/RecoveryAshes/Repagination/internal/merger"
	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// DefaultYieldEvery 合并大量节点时让出调度的时间片
const DefaultYieldEvery = 60 * time.Millisecond

// SessionOptions 会话参数
type SessionOptions struct {
	Mode              models.Mode
	PageLimit         int           // 0表示不限
	SlideshowInterval time.Duration // 仅slideshow模式
	AllowScripts      bool
	StripStyles       bool
	YieldEvery        time.Duration
}

// OptionsFromConfig 由翻页配置生成会话参数
func OptionsFromConfig(cfg models.CrawlConfig) SessionOptions {
	yield := DefaultYieldEvery
	if cfg.YieldMs > 0 {
		yield = time.Duration(cfg.YieldMs) * time.Millisecond
	}
	return SessionOptions{
		Mode:              cfg.Mode(),
		PageLimit:         cfg.PageLimit,
		SlideshowInterval: time.Duration(cfg.SlideshowSeconds) * time.Second,
		AllowScripts:      cfg.AllowScripts,
		StripStyles:       cfg.StripStyles,
		YieldEvery:        yield,
	}
}

// Session 绑定到一个窗口的翻页会话
//
// 会话只借用窗口: 每次访问文档前都重新检查窗口是否打开。
// 周期严格串行执行,取消通过清除文档的运行标记完成,在周期边界生效。
type Session struct {
	id      string
	win     *dom.Window
	fetcher crawlers.Fetcher
	opts    SessionOptions
	logger  zerolog.Logger

	// 以下字段只在会话goroutine中访问
	loc          *locator.Locator
	seedURL      string
	firstFetched string
	title        string
	titleSaved   bool
	lastYield    time.Time

	pageCount atomic.Int64

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	result    models.SessionResult

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSession 创建会话,定位器归会话独占
func NewSession(win *dom.Window, loc *locator.Locator, fetcher crawlers.Fetcher, opts SessionOptions) *Session {
	if opts.Mode == "" {
		opts.Mode = models.ModeAppend
	}
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = DefaultYieldEvery
	}

	id := uuid.New().String()
	winID := ""
	if win != nil {
		winID = win.ID()
	}

	return &Session{
		id:      id,
		win:     win,
		fetcher: fetcher,
		opts:    opts,
		loc:     loc,
		logger:  utils.SessionLogger(id, winID),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// PageCount 已合并页数
func (s *Session) PageCount() int {
	return int(s.pageCount.Load())
}

// Done 会话结束时关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start 启动会话
// 只有参数错误和重复启动会返回错误,其余失败都以停止原因的形式出现在Wait的结果中
func (s *Session) Start(ctx context.Context) error {
	if s.win == nil {
		return ErrNilWindow
	}
	if s.loc == nil {
		return ErrNilLocator
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()
	s.logger.Info().Str("query", s.loc.Query).Str("mode", string(s.opts.Mode)).Msg("翻页会话启动")

	stop := context.AfterFunc(ctx, s.Stop)
	go func() {
		defer close(s.done)
		defer stop()
		s.finish(s.run(ctx))
	}()
	return nil
}

// Stop 清除运行标记,会话在下一个检查点结束
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.win == nil {
		return
	}
	if doc, ok := s.win.Document(); ok {
		doc.SetRunning(false)
	}
}

// Wait 等待会话结束并返回结果,未启动的会话立即返回
func (s *Session) Wait() models.SessionResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return models.SessionResult{SessionID: s.id, Status: models.SessionIdle}
	}

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// run 周期循环,panic转换为停止原因
func (s *Session) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	doc, ok := s.win.Document()
	if !ok {
		return ErrWindowClosed
	}
	if s.stopped() {
		return ErrNotRunning
	}

	s.seedURL = dom.NormalizeLocation(doc.Location())
	s.setTitle(doc)

	href, err := s.locate(doc)
	if err != nil {
		return err
	}
	if href == "" {
		return ErrNoNextNode
	}

	doc.SetRunning(true)
	// Stop可能发生在设置标记之前
	if s.stopped() {
		return ErrNotRunning
	}

	for {
		next, err := s.cycle(ctx, href)
		if err != nil {
			return err
		}
		href = next

		if s.opts.Mode == models.ModeSlideshow && s.opts.SlideshowInterval > 0 {
			if err := s.wait(ctx, s.opts.SlideshowInterval); err != nil {
				return err
			}
		}
	}
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.stopCh:
		return ErrNotRunning
	case <-ctx.Done():
		return ErrNotRunning
	}
}

// cycle 获取一页并推进状态机,获取到的页面无论结果如何都会释放
func (s *Session) cycle(ctx context.Context, href string) (string, error) {
	doc, ok := s.win.Document()
	if !ok {
		return "", ErrWindowClosed
	}
	if s.stopped() || !doc.IsRunning() {
		return "", ErrNotRunning
	}

	owner := doc.LocationURL()
	if !dom.CheckMayLoad(owner, href) {
		s.logger.Info().Str("next", href).Msg("下一页不同源,不再获取")
		return "", ErrCrossOriginDenied
	}

	s.logger.Debug().Str("url", href).Msg("获取下一页")
	page, err := s.fetcher.Fetch(ctx, href, crawlers.FetchOptions{
		Referer:      owner.String(),
		AllowScripts: s.opts.AllowScripts,
	})
	if err != nil {
		if ctx.Err() != nil || s.stopped() {
			return "", ErrNotRunning
		}
		return "", fmt.Errorf("获取下一页失败: %w", err)
	}
	defer page.Release()

	doc, ok = s.win.Document()
	if !ok {
		return "", ErrWindowClosed
	}
	return s.advance(doc, owner, page)
}

// advance 合并已获取的页面并决定下一页
func (s *Session) advance(doc *dom.Document, owner *url.URL, page *crawlers.FetchedPage) (string, error) {
	if s.stopped() || !doc.IsRunning() {
		return "", ErrNotRunning
	}
	if !dom.CheckMayLoad(owner, page.URL) {
		return "", ErrCrossOriginDenied
	}
	if page.Doc == nil {
		return "", crawlers.ErrEmptyDocument
	}

	count := int(s.pageCount.Add(1))
	fetchedAt := dom.NormalizeLocation(page.URL)
	if count == 1 {
		s.firstFetched = fetchedAt
	}

	// 抓取到的文档只属于本会话,直接修改其节点树
	pageRoot := page.Doc.Root()
	pageURL := page.Doc.LocationURL()

	removed := merger.Sanitize(pageRoot, s.opts.StripStyles)
	s.yieldNow()

	if s.opts.Mode == models.ModeAppend {
		dropped := merger.DropForeignFrames(pageRoot, pageURL, doc.Host())
		s.logger.Debug().Int("removed", removed).Int("frames", dropped).Msg("页面已清理")
		s.yieldNow()
	}

	if err := merger.Merge(doc, pageRoot, s.opts.Mode, s.maybeYield); err != nil {
		return "", err
	}
	metrics.PagesMerged.WithLabelValues(string(s.opts.Mode)).Inc()
	s.logger.Info().Int("page", count).Str("url", page.URL).Msg("页面已合并")

	doc.DispatchEvent(dom.EventDOMContentLoaded)
	doc.DispatchEvent(dom.EventLoad)
	s.yieldNow()

	if s.opts.PageLimit > 0 && count >= s.opts.PageLimit {
		return "", ErrLimitReached
	}

	var saved string
	incremented := false
	if s.loc.AttemptToIncrement {
		candidate := s.loc.Increment()
		if candidate == s.loc.Query {
			s.loc.AttemptToIncrement = false
		} else {
			saved = s.loc.Query
			s.loc.Query = candidate
			incremented = true
		}
	}

	next, err := s.locate(page.Doc)
	if err != nil {
		return "", err
	}
	if incremented && (next == "" || dom.NormalizeLocation(next) == fetchedAt) {
		s.logger.Debug().Str("incremented", s.loc.Query).Str("saved", saved).Msg("递增后未找到下一页,回退")
		s.loc.Query = saved
		s.loc.AttemptToIncrement = false
		if next, err = s.locate(page.Doc); err != nil {
			return "", err
		}
	}

	if next == "" {
		return "", ErrNoNextNode
	}
	normalized := dom.NormalizeLocation(next)
	if normalized == fetchedAt {
		return "", ErrNoProgress
	}
	if normalized == s.seedURL || normalized == s.firstFetched {
		return "", ErrLoopDetected
	}

	s.setTitle(doc)
	return next, nil
}

// locate 在文档中演算定位器并解析href,没有节点或节点没有href时返回空串
func (s *Session) locate(doc *dom.Document) (string, error) {
	var href string
	err := doc.WithRLock(func(root *html.Node, location *url.URL) error {
		node, err := s.loc.Evaluate(root)
		if err != nil || node == nil {
			return err
		}
		href, _ = dom.ResolveURL(root, location, node, "href")
		return nil
	})
	return href, err
}

func (s *Session) yieldNow() {
	runtime.Gosched()
	s.lastYield = time.Now()
}

func (s *Session) maybeYield() {
	if time.Since(s.lastYield) >= s.opts.YieldEvery {
		s.yieldNow()
	}
}

// ProgressTitle 进度标题
func ProgressTitle(count, limit int) string {
	switch {
	case limit > 0:
		return fmt.Sprintf("Repagination: %d of %d pages", count, limit)
	case count > 0:
		return fmt.Sprintf("Repagination: %d pages so far", count)
	default:
		return "Repagination: running…"
	}
}

func (s *Session) setTitle(doc *dom.Document) {
	if !s.titleSaved {
		s.title = doc.Title()
		s.titleSaved = true
	}
	doc.SetTitle(ProgressTitle(s.PageCount(), s.opts.PageLimit))
}

// finish 清除运行标记、恢复标题并记录结果
// 窗口已经关闭时不再访问文档
func (s *Session) finish(err error) {
	location := s.seedURL
	if doc, ok := s.win.Document(); ok {
		location = doc.Location()
		doc.SetRunning(false)
		if s.titleSaved {
			doc.SetTitle(s.title)
			s.titleSaved = false
		}
	}
	if err == nil {
		err = ErrNotRunning
	}

	reason := ReasonCode(err)
	clean := IsCleanStop(err)
	stoppedAt := time.Now()

	s.mu.Lock()
	s.result = models.SessionResult{
		SessionID: s.id,
		WindowID:  s.win.ID(),
		Location:  location,
		Query:     s.loc.Query,
		Pages:     s.PageCount(),
		Status:    models.SessionStopped,
		Reason:    reason,
		Err:       err.Error(),
		Clean:     clean,
		StartedAt: s.startedAt,
		StoppedAt: stoppedAt,
		Duration:  stoppedAt.Sub(s.startedAt).Seconds(),
	}
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionsStopped.WithLabelValues(reason).Inc()

	event := s.logger.Info()
	if !clean {
		event = s.logger.Warn()
	}
	event.Str("reason", reason).Int("pages", s.PageCount()).Err(err).Msg("翻页会话结束")
}

