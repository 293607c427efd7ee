package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RunningAttr body上的运行标记属性
const RunningAttr = "repagination"

// 合成事件名称
const (
	EventDOMContentLoaded = "DOMContentLoaded"
	EventLoad             = "load"
)

var (
	ErrNoBody        = errors.New("文档缺少body元素")
	ErrWindowClosed  = errors.New("窗口已关闭")
	ErrInvalidLocate = errors.New("文档地址无效")
)

// EventListener 文档事件监听器
type EventListener func(doc *Document)

// Document 已解析的HTML文档
// 会话goroutine与宿主(CLI、扇出组)并发访问,所有读写都经过mu
type Document struct {
	mu       sync.RWMutex
	root     *html.Node
	location *url.URL

	listenersMu sync.RWMutex
	listeners   map[string][]EventListener
}

// Parse 解析HTML并绑定文档地址
func Parse(r io.Reader, location string) (*Document, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocate, err)
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	return &Document{
		root:      root,
		location:  loc,
		listeners: make(map[string][]EventListener),
	}, nil
}

// ParseString 解析HTML字符串
func ParseString(content string, location string) (*Document, error) {
	return Parse(strings.NewReader(content), location)
}

// Location 返回文档地址
func (d *Document) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location.String()
}

// LocationURL 返回文档地址的副本
func (d *Document) LocationURL() *url.URL {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u := *d.location
	return &u
}

// Host 返回文档主机名(不含端口)
func (d *Document) Host() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.ToLower(d.location.Hostname())
}

// Root 返回文档根节点,调用者负责并发安全
func (d *Document) Root() *html.Node {
	return d.root
}

// WithRLock 在读锁内访问文档树
func (d *Document) WithRLock(fn func(root *html.Node, location *url.URL) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(d.root, d.location)
}

// WithLock 在写锁内修改文档树
func (d *Document) WithLock(fn func(root *html.Node, location *url.URL) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.root, d.location)
}

// Title 返回<title>文本
func (d *Document) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	title := FindElement(d.root, atom.Title)
	if title == nil {
		return ""
	}
	return TextContent(title)
}

// SetTitle 设置<title>文本,不存在时在<head>中创建
func (d *Document) SetTitle(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	title := FindElement(d.root, atom.Title)
	if title == nil {
		head := ensureHead(d.root)
		if head == nil {
			return
		}
		title = &html.Node{Type: html.ElementNode, DataAtom: atom.Title, Data: "title"}
		head.AppendChild(title)
	}

	for c := title.FirstChild; c != nil; {
		next := c.NextSibling
		title.RemoveChild(c)
		c = next
	}
	title.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// IsRunning 检查body上的运行标记
func (d *Document) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	body := FindElement(d.root, atom.Body)
	if body == nil {
		return false
	}
	_, ok := GetAttr(body, RunningAttr)
	return ok
}

// SetRunning 设置或清除body上的运行标记
func (d *Document) SetRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	body := FindElement(d.root, atom.Body)
	if body == nil {
		return
	}
	if running {
		SetAttr(body, RunningAttr, "true")
	} else {
		RemoveAttr(body, RunningAttr)
	}
}

// ResolveHref 解析节点的href为绝对地址
func (d *Document) ResolveHref(n *html.Node) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ResolveURL(d.root, d.location, n, "href")
}

// AddEventListener 注册事件监听器
func (d *Document) AddEventListener(name string, fn EventListener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners[name] = append(d.listeners[name], fn)
}

// DispatchEvent 同步派发事件,监听器在锁外执行
func (d *Document) DispatchEvent(name string) {
	d.listenersMu.RLock()
	fns := append([]EventListener(nil), d.listeners[name]...)
	d.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(d)
	}
}

// Render 输出HTML
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// String 返回序列化后的HTML
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// ensureHead 返回<head>,缺失时插入到<html>首位
func ensureHead(root *html.Node) *html.Node {
	if head := FindElement(root, atom.Head); head != nil {
		return head
	}
	htmlEl := FindElement(root, atom.Html)
	if htmlEl == nil {
		return nil
	}
	head := &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
	htmlEl.InsertBefore(head, htmlEl.FirstChild)
	return head
}
