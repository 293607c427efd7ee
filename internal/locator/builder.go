package locator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/RecoveryAshes/Repagination/internal/dom"
)

// knownSite 固定路径站点表,按href子串匹配
type knownSite struct {
	hrefContains string
	query        string
}

var knownSites = []knownSite{
	{
		hrefContains: "mspaintadventures.com",
		query: "//center[position() = 1]/table[position() = 1]/tbody[position() = 1]/tr[position() = 2]" +
			"/td[position() = 1]/table[position() = 1]/tbody[position() = 1]/tr[position() = 1]" +
			"/td[position() = 1]/table[position() = 1]/tbody[position() = 1]/tr[position() = 2]" +
			"/td[position() = 1]/center[position() = 1]/table[position() = 1]/tbody[position() = 1]" +
			"/tr[position() = 6]/td[position() = 1]/table[position() = 1]/tbody[position() = 1]" +
			"/tr[position() = 1]/td[position() = 1]/font[position() = 1]/a[position() = 1]",
	},
}

var digitRun = regexp.MustCompile(`\d+`)

// Literal 把字符串转换为XPath字面量
// 不含单引号用单引号包裹,含单引号不含双引号用双引号,两者都含时用concat()
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	pieces := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			pieces = append(pieces, `"'"`)
		}
		if part != "" {
			pieces = append(pieces, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(pieces, ", ") + ")"
}

// literalToken 生成只匹配 head+字面量+tail 中数字的正则
func literalToken(head, tail string) *regexp.Regexp {
	return regexp.MustCompile("(" + regexp.QuoteMeta(head) + `['"][^'"]*?)(\d+)([^'"]*['"]` + regexp.QuoteMeta(tail) + ")")
}

// clause 一个带字面量的查询片段
type clause struct {
	head    string
	literal string
	tail    string
}

func (c clause) query() string {
	return c.head + Literal(c.literal) + c.tail
}

func (c clause) token() *regexp.Regexp {
	return literalToken(c.head, c.tail)
}

// Build 从锚点(或其后代)推导定位器
func Build(el *html.Node, doc *dom.Document) (*Locator, error) {
	var (
		loc *Locator
		err error
	)
	rerr := doc.WithRLock(func(root *html.Node, location *url.URL) error {
		loc, err = build(el, root, location)
		return nil
	})
	if rerr != nil {
		return nil, rerr
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("query", loc.Query).Bool("increment", loc.AttemptToIncrement).Msg("定位器已构建")
	return loc, nil
}

func build(el *html.Node, root *html.Node, location *url.URL) (*Locator, error) {
	anchor := closestAnchor(el)
	if anchor == nil {
		return nil, ErrNoAnchorFound
	}
	href, _ := dom.ResolveURL(root, location, anchor, "href")

	// 1. 固定路径站点
	for _, site := range knownSites {
		if href != "" && strings.Contains(href, site.hrefContains) {
			log.Debug().Str("site", site.hrefContains).Msg("使用固定路径")
			return wrap(site.query, nil, false), nil
		}
	}

	// 2. 锚点自身的id
	if id, ok := dom.GetAttr(anchor, "id"); ok && id != "" {
		c := clause{head: "//a[@id=", literal: id, tail: "]"}
		return wrap(c.query(), c.token(), hasSingleRun(id)), nil
	}

	// 3. <head>中指向同一地址的<link rel>
	if href != "" {
		if rel := headLinkRel(root, location, href); rel != "" {
			c := clause{head: "/html/head//link[@rel=", literal: rel, tail: "]"}
			log.Debug().Str("rel", rel).Msg("使用link[@rel]")
			return wrap(c.query(), nil, false), nil
		}
	}

	// 4. 路径前缀 + 锚点判别式
	prefix := pathPrefix(anchor)
	c, increment, ok := discriminator(anchor)
	if !ok {
		return nil, ErrNoExpressionFound
	}
	increment = increment && hasSingleRun(c.literal)
	return wrap(prefix+c.query(), c.token(), increment), nil
}

// wrap 包装为选择最后一个匹配节点
func wrap(query string, token *regexp.Regexp, increment bool) *Locator {
	return &Locator{
		Query:              "(" + query + ")[last()]",
		NumberToken:        token,
		AttemptToIncrement: increment && token != nil,
	}
}

func closestAnchor(el *html.Node) *html.Node {
	for n := el; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			return n
		}
	}
	return nil
}

func hasSingleRun(literal string) bool {
	return len(digitRun.FindAllString(literal, -1)) == 1
}

func headLinkRel(root *html.Node, location *url.URL, href string) string {
	links, err := htmlquery.QueryAll(root, "//head//link[@href]")
	if err != nil {
		return ""
	}
	for _, link := range links {
		linkHref, ok := dom.ResolveURL(root, location, link, "href")
		if !ok || linkHref != href {
			continue
		}
		rel, _ := dom.GetAttr(link, "rel")
		if rel = strings.TrimSpace(rel); rel != "" {
			return rel
		}
		return ""
	}
	return ""
}

// pathPrefix 自内向外查找祖先,遇到id即停止,否则累积class
func pathPrefix(anchor *html.Node) string {
	var pieces []string
	for pn := anchor.Parent; pn != nil && pn.Type == html.ElementNode; pn = pn.Parent {
		if pn.DataAtom == atom.Body {
			break
		}
		if id, ok := dom.GetAttr(pn, "id"); ok && id != "" {
			pieces = append([]string{"//" + pn.Data + "[@id=" + Literal(id) + "]"}, pieces...)
			break
		}
		if class, ok := dom.GetAttr(pn, "class"); ok && class != "" {
			pieces = append([]string{"//" + pn.Data + "[@class=" + Literal(class) + "]"}, pieces...)
		}
	}
	return strings.Join(pieces, "")
}

// discriminator 按顺序尝试锚点判别式
// 文本判别式先去掉首尾空白并把内部连续空白折叠为单个空格,
// 查询中使用normalize-space(.)比较,因此换行或缩进不同的同一文本也能匹配
func discriminator(anchor *html.Node) (clause, bool, bool) {
	if rel, _ := dom.GetAttr(anchor, "rel"); strings.TrimSpace(rel) != "" {
		rel = strings.TrimSpace(rel)
		if strings.Contains(rel, "next") || strings.Contains(rel, "prev") {
			log.Debug().Str("rel", rel).Msg("使用a[@rel]")
			return clause{head: "//a[@rel=", literal: rel, tail: "]"}, false, true
		}
	}

	if text := strings.Join(strings.Fields(dom.TextContent(anchor)), " "); text != "" {
		log.Debug().Str("text", text).Msg("使用文本")
		return clause{head: "//a[normalize-space(.)=", literal: text, tail: "]"}, true, true
	}

	if n, val := firstDescendantWith(anchor, "src"); n != nil {
		log.Debug().Str("src", val).Msg("使用@src")
		return clause{head: "//" + n.Data + "[@src=", literal: val, tail: "]/ancestor::a"}, true, true
	}

	if n, val := firstDescendantWith(anchor, "value"); n != nil {
		log.Debug().Str("value", val).Msg("使用@value")
		return clause{head: "//" + n.Data + "[@value=", literal: val, tail: "]/ancestor::a"}, true, true
	}

	if class, ok := dom.GetAttr(anchor, "class"); ok && class != "" {
		log.Debug().Str("class", class).Msg("使用a[@class]")
		return clause{head: "//a[@class=", literal: class, tail: "]"}, true, true
	}

	if n, val := firstDescendantWith(anchor, "id"); n != nil {
		log.Debug().Str("id", val).Msg("使用后代@id")
		return clause{head: "//" + n.Data + "[@id=", literal: val, tail: "]/ancestor::a"}, true, true
	}

	return clause{}, false, false
}

// firstDescendantWith 文档顺序中第一个属性非空的后代元素
func firstDescendantWith(anchor *html.Node, attr string) (*html.Node, string) {
	var (
		found *html.Node
		value string
	)
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if v, ok := dom.GetAttr(c, attr); ok && strings.TrimSpace(v) != "" {
				found, value = c, v
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(anchor)
	return found, value
}
