// Package merger 清理抓取到的页面并合并进宿主文档
package merger

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/models"
)

var ErrUnknownMode = errors.New("未知的合并模式")

// Sanitize 移除<script>、<noscript>,stripStyles时同时移除<style>
// 返回移除的元素数量
func Sanitize(page *html.Node, stripStyles bool) int {
	selector := "script, noscript"
	if stripStyles {
		selector += ", style"
	}

	sel := goquery.NewDocumentFromNode(page).Find(selector)
	removed := sel.Length()
	sel.Remove()
	return removed
}

// DropForeignFrames 移除来源主机与宿主窗口不同的iframe
func DropForeignFrames(page *html.Node, pageURL *url.URL, ownerHost string) int {
	removed := 0
	goquery.NewDocumentFromNode(page).Find("iframe").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)

		host := ""
		if pageURL != nil {
			if u, err := pageURL.Parse(src); err == nil {
				host = u.Hostname()
			}
		}
		if !strings.EqualFold(host, ownerHost) {
			s.Remove()
			removed++
		}
	})
	return removed
}

// Merge 把抓取页面的body合并进宿主文档
// append模式逐个深拷贝追加子节点,每个节点之间调用yield
// slideshow模式整体替换body内容并重新设置运行标记
func Merge(owner *dom.Document, fetched *html.Node, mode models.Mode, yield func()) error {
	body := dom.FindElement(fetched, atom.Body)
	if body == nil {
		return dom.ErrNoBody
	}
	if yield == nil {
		yield = func() {}
	}

	children := goquery.NewDocumentFromNode(body).Contents()

	switch mode {
	case models.ModeAppend:
		var mergeErr error
		children.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			clone := s.Clone().Get(0)
			mergeErr = owner.WithLock(func(root *html.Node, _ *url.URL) error {
				ownerBody := dom.FindElement(root, atom.Body)
				if ownerBody == nil {
					return dom.ErrNoBody
				}
				ownerBody.AppendChild(clone)
				return nil
			})
			if mergeErr != nil {
				return false
			}
			yield()
			return true
		})
		return mergeErr

	case models.ModeSlideshow:
		clones := children.Clone().Nodes
		return owner.WithLock(func(root *html.Node, _ *url.URL) error {
			ownerBody := dom.FindElement(root, atom.Body)
			if ownerBody == nil {
				return dom.ErrNoBody
			}
			for c := ownerBody.FirstChild; c != nil; {
				next := c.NextSibling
				ownerBody.RemoveChild(c)
				c = next
			}
			for _, n := range clones {
				ownerBody.AppendChild(n)
			}
			// 只替换内容,body自身的属性保留;运行标记重新设置
			dom.SetAttr(ownerBody, dom.RunningAttr, "true")
			return nil
		})

	default:
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}
