package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/net/html"

	"github.com/RecoveryAshes/Repagination/internal/crawlers"
	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/locator"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// ErrNoAnchorSelector 既没有--anchor也没有--text
var ErrNoAnchorSelector = errors.New("需要指定锚点XPath或锚点文本")

// FlattenRequest 一次翻页请求
type FlattenRequest struct {
	SeedURL string
	With    []string // 一起打开的其他文档,用于域名扇出
	Anchor  string   // 选择种子锚点的XPath
	Text    string   // 按链接文本选择种子锚点
	Query   string   // 直接使用的定位器,跳过构建
}

// Flattener 主协调器
// 获取种子文档 → 选择锚点 → 构建定位器 → 运行会话 → 保存合并结果和报告
type Flattener struct {
	config  *Config
	fetcher crawlers.Fetcher

	// ShowProgress 是否在终端显示进度条
	ShowProgress bool

	mu      sync.Mutex
	stopper func()
	stopped bool
}

// NewFlattener 创建协调器,获取器由调用方负责关闭
func NewFlattener(config *Config, fetcher crawlers.Fetcher) *Flattener {
	return &Flattener{
		config:       config,
		fetcher:      fetcher,
		ShowProgress: true,
	}
}

// Stop 停止正在运行的所有会话
func (f *Flattener) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.stopper != nil {
		f.stopper()
	}
}

func (f *Flattener) setStopper(fn func()) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		fn()
		return false
	}
	f.stopper = fn
	return true
}

// Run 执行翻页任务
func (f *Flattener) Run(ctx context.Context, req FlattenRequest) (*models.FlattenReport, error) {
	task, err := models.NewFlattenTask(req.SeedURL, f.config.Crawl)
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	task.StartedAt = &startTime

	utils.Infof("🚀 开始翻页任务")
	utils.Infof("起始页: %s", req.SeedURL)
	utils.Infof("合并模式: %s, 获取方式: %s", task.Mode, f.fetcher.Type())

	ws := dom.NewWorkspace()
	seedWin, err := f.open(ctx, ws, req.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("获取起始页失败: %w", err)
	}
	for _, extra := range req.With {
		if _, err := f.open(ctx, ws, extra); err != nil {
			utils.Warnf("跳过无法获取的文档 [%s]: %v", extra, err)
		}
	}

	seedDoc, ok := seedWin.Document()
	if !ok {
		return nil, ErrWindowClosed
	}

	loc, err := f.resolveLocator(seedDoc, req)
	if err != nil {
		return nil, err
	}
	task.Query = loc.Query
	utils.Infof("定位器: %s", loc)

	opts := OptionsFromConfig(f.config.Crawl)
	bar := f.progress(ws, opts.PageLimit)

	var results []models.SessionResult
	if f.config.Crawl.Domain {
		group, err := StartDomainCrawlWithLocator(ctx, ws, seedDoc.Host(), loc, f.fetcher, opts)
		if err != nil {
			return nil, err
		}
		if !f.setStopper(group.Stop) {
			utils.Warn("任务在启动时已被取消")
		}
		results = group.Wait()
	} else {
		session := NewSession(seedWin, loc, f.fetcher, opts)
		if err := session.Start(ctx); err != nil {
			return nil, err
		}
		if !f.setStopper(session.Stop) {
			utils.Warn("任务在启动时已被取消")
		}
		results = []models.SessionResult{session.Wait()}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	completedAt := time.Now()
	task.CompletedAt = &completedAt

	report := &models.FlattenReport{
		TaskID:    task.ID,
		SeedURL:   task.SeedURL,
		Domain:    task.Domain,
		Query:     task.Query,
		Mode:      task.Mode,
		Fetcher:   f.fetcher.Type(),
		StartTime: startTime,
		EndTime:   completedAt,
		Duration:  completedAt.Sub(startTime).Seconds(),
		Results:   results,
		Config:    task.Config,
	}
	for _, r := range results {
		report.TotalPages += r.Pages
		utils.Infof("会话结束: %s, 合并 %d 页, 原因: %s", r.Location, r.Pages, r.Reason)
	}

	if err := f.save(ws, report); err != nil {
		utils.Warnf("保存结果失败: %v", err)
	}

	utils.Infof("✅ 翻页任务完成, 共合并 %d 页, 耗时 %.2f秒", report.TotalPages, report.Duration)
	return report, nil
}

// Query 只构建定位器,不启动会话
func (f *Flattener) Query(ctx context.Context, req FlattenRequest) (*locator.Locator, error) {
	if err := models.ValidateURL(req.SeedURL); err != nil {
		return nil, err
	}
	ws := dom.NewWorkspace()
	win, err := f.open(ctx, ws, req.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("获取起始页失败: %w", err)
	}
	doc, ok := win.Document()
	if !ok {
		return nil, ErrWindowClosed
	}
	return f.resolveLocator(doc, req)
}

// open 获取文档并在工作区中打开,获取器持有的资源立即释放
func (f *Flattener) open(ctx context.Context, ws *dom.Workspace, pageURL string) (*dom.Window, error) {
	page, err := f.fetcher.Fetch(ctx, pageURL, crawlers.FetchOptions{AllowScripts: f.config.Crawl.AllowScripts})
	if err != nil {
		return nil, err
	}
	defer page.Release()

	if page.Doc == nil {
		return nil, crawlers.ErrEmptyDocument
	}
	win := ws.Open(page.Doc)
	utils.Debugf("已打开文档: %s", page.URL)
	return win, nil
}

func (f *Flattener) resolveLocator(doc *dom.Document, req FlattenRequest) (*locator.Locator, error) {
	if req.Query != "" {
		return locator.FromQuery(req.Query)
	}
	anchor, err := SelectAnchor(doc, req.Anchor, req.Text)
	if err != nil {
		return nil, err
	}
	return locator.Build(anchor, doc)
}

// SelectAnchor 按XPath或链接文本选择种子锚点,多个匹配时取最后一个
func SelectAnchor(doc *dom.Document, anchorXPath, text string) (*html.Node, error) {
	var q string
	switch {
	case anchorXPath != "":
		q = anchorXPath
	case text != "":
		q = "//a[normalize-space(.)=" + locator.Literal(text) + "]"
	default:
		return nil, ErrNoAnchorSelector
	}

	sel, err := locator.FromQuery(q)
	if err != nil {
		return nil, err
	}

	var node *html.Node
	err = doc.WithRLock(func(root *html.Node, _ *url.URL) error {
		var evalErr error
		node, evalErr = sel.Evaluate(root)
		return evalErr
	})
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, locator.ErrNoAnchorFound
	}
	return node, nil
}

// progress 由文档的load事件驱动进度条
func (f *Flattener) progress(ws *dom.Workspace, limit int) *progressbar.ProgressBar {
	if !f.ShowProgress {
		return nil
	}

	windows := ws.Windows()
	total := -1
	if limit > 0 {
		total = limit * len(windows)
	}
	bar := utils.NewProgressBar(total, "翻页中")
	for _, win := range windows {
		if doc, ok := win.Document(); ok {
			doc.AddEventListener(dom.EventLoad, func(*dom.Document) {
				_ = bar.Add(1)
			})
		}
	}
	return bar
}

// save 保存每个会话的合并结果和报告
func (f *Flattener) save(ws *dom.Workspace, report *models.FlattenReport) error {
	if f.config.Output.BaseDir == "" {
		return nil
	}
	reporter := utils.NewReporter(f.config.Output.BaseDir, report.Domain)

	for i, r := range report.Results {
		win, ok := ws.Lookup(r.WindowID)
		if !ok {
			continue
		}
		doc, ok := win.Document()
		if !ok {
			continue
		}

		name := "flattened"
		if len(report.Results) > 1 {
			name = fmt.Sprintf("flattened_%d", i+1)
		}
		path, err := reporter.WriteDocument(name, doc.String())
		if err != nil {
			return err
		}
		report.OutputFiles = append(report.OutputFiles, path)
	}

	if !f.config.Output.WriteReport {
		return nil
	}
	_, err := reporter.GenerateReport(report)
	return err
}
