package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/RecoveryAshes/Repagination/internal/crawlers"
	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/locator"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// FanoutGroup 同主机文档上的一组独立会话
// 成员之间不共享可变状态,任何一个成员停止都不影响其他成员
type FanoutGroup struct {
	sessions []*Session
	results  []models.SessionResult
	group    *errgroup.Group
}

// StartDomainCrawl 从种子锚点构建定位器,然后对所有同主机窗口启动会话
func StartDomainCrawl(ctx context.Context, ws *dom.Workspace, seed *dom.Window, anchor *html.Node,
	fetcher crawlers.Fetcher, opts SessionOptions) (*FanoutGroup, error) {
	if seed == nil {
		return nil, ErrNilWindow
	}
	seedDoc, ok := seed.Document()
	if !ok {
		return nil, ErrWindowClosed
	}

	loc, err := locator.Build(anchor, seedDoc)
	if err != nil {
		return nil, err
	}
	return StartDomainCrawlWithLocator(ctx, ws, seedDoc.Host(), loc, fetcher, opts)
}

// StartDomainCrawlWithLocator 使用已有定位器扇出
// 每个窗口得到定位器的独立副本,只有在该窗口文档中能找到节点时才启动会话
func StartDomainCrawlWithLocator(ctx context.Context, ws *dom.Workspace, host string, loc *locator.Locator,
	fetcher crawlers.Fetcher, opts SessionOptions) (*FanoutGroup, error) {
	if loc == nil {
		return nil, ErrNilLocator
	}

	g := &FanoutGroup{group: new(errgroup.Group)}
	for _, win := range ws.Windows() {
		doc, ok := win.Document()
		if !ok || !strings.EqualFold(doc.Host(), host) {
			continue
		}
		if !matches(doc, loc) {
			utils.Debugf("窗口没有匹配节点,跳过: %s", doc.Location())
			continue
		}

		s := NewSession(win, loc.Clone(), fetcher, opts)
		if err := s.Start(ctx); err != nil {
			utils.Warnf("启动会话失败 [%s]: %v", doc.Location(), err)
			continue
		}
		g.sessions = append(g.sessions, s)
	}

	if len(g.sessions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatchingDocuments, host)
	}

	// 每个成员的结果写入自己的槽位,成员失败不会取消其他成员
	g.results = make([]models.SessionResult, len(g.sessions))
	for i, s := range g.sessions {
		g.group.Go(func() error {
			g.results[i] = s.Wait()
			return nil
		})
	}

	utils.Infof("域名扇出: %s 上启动了 %d 个会话", host, len(g.sessions))
	return g, nil
}

func matches(doc *dom.Document, loc *locator.Locator) bool {
	found := false
	_ = doc.WithRLock(func(root *html.Node, _ *url.URL) error {
		node, err := loc.Evaluate(root)
		found = err == nil && node != nil
		return nil
	})
	return found
}

// Sessions 组内会话,按窗口打开顺序
func (g *FanoutGroup) Sessions() []*Session {
	return append([]*Session(nil), g.sessions...)
}

// Stop 停止所有成员
func (g *FanoutGroup) Stop() {
	for _, s := range g.sessions {
		s.Stop()
	}
}

// Wait 等待所有成员结束,结果按窗口打开顺序返回
func (g *FanoutGroup) Wait() []models.SessionResult {
	_ = g.group.Wait()
	return append([]models.SessionResult(nil), g.results...)
}
