package dom

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FindElement 深度优先查找第一个指定标签的元素
func FindElement(root *html.Node, a atom.Atom) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && root.DataAtom == a {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Body 返回<body>元素,调用者负责加锁
func (d *Document) Body() *html.Node {
	return FindElement(d.root, atom.Body)
}

// Head 返回<head>元素,缺失时创建
func (d *Document) Head() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ensureHead(d.root)
}

// GetAttr 读取属性
func GetAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// SetAttr 设置属性,已存在则覆盖
func SetAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr 删除属性
func RemoveAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			continue
		}
		attrs = append(attrs, attr)
	}
	n.Attr = attrs
}

// TextContent 拼接所有文本子节点
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// BaseURL 返回文档的基准地址,<base href>优先
func BaseURL(root *html.Node, location *url.URL) *url.URL {
	if location == nil {
		return nil
	}
	base := FindElement(root, atom.Base)
	if base == nil {
		return location
	}
	href, ok := GetAttr(base, "href")
	if !ok || strings.TrimSpace(href) == "" {
		return location
	}
	u, err := location.Parse(strings.TrimSpace(href))
	if err != nil {
		return location
	}
	return u
}

// ResolveURL 将节点属性解析为绝对地址
// 属性缺失或为空时返回false
func ResolveURL(root *html.Node, location *url.URL, n *html.Node, attr string) (string, bool) {
	raw, ok := GetAttr(n, attr)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	base := BaseURL(root, location)
	if base == nil {
		return raw, true
	}
	u, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// NormalizeLocation 统一地址的字符串形式,便于比较,片段标识被丢弃
func NormalizeLocation(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
