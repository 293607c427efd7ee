// Package locator 构建并演算"下一页"XPath定位器
//
// 定位器由种子锚点推导而来: 查询语句总是包装成 (...)[last()],
// 以便在每个抓取页面上选中最后一个匹配节点;
// NumberToken 捕获刚插入的字面量中的数字, 用于逐页递增.
package locator

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

var (
	ErrNoAnchorFound     = errors.New("未找到锚点元素")
	ErrNoExpressionFound = errors.New("无法为锚点构建定位表达式")
	ErrInvalidQuery      = errors.New("XPath表达式无效")
)

// Locator 下一页定位器
type Locator struct {
	Query              string
	NumberToken        *regexp.Regexp
	AttemptToIncrement bool
}

// FromQuery 使用用户提供的XPath,不做递增
func FromQuery(q string) (*Locator, error) {
	if _, err := xpath.Compile(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return &Locator{Query: q}, nil
}

// Clone 复制定位器,递增状态各自独立
func (l *Locator) Clone() *Locator {
	c := *l
	return &c
}

// Increment 返回数字加一后的候选查询
// 不匹配或无NumberToken时原样返回
func (l *Locator) Increment() string {
	if l.NumberToken == nil {
		return l.Query
	}
	m := l.NumberToken.FindStringSubmatchIndex(l.Query)
	if m == nil || len(m) < 6 || m[4] < 0 {
		return l.Query
	}

	digits := l.Query[m[4]:m[5]]
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return l.Query
	}
	n.Add(n, big.NewInt(1))
	return l.Query[:m[4]] + n.String() + l.Query[m[5]:]
}

// Evaluate 在文档中查找最后一个匹配节点
func (l *Locator) Evaluate(root *html.Node) (*html.Node, error) {
	expr, err := xpath.Compile(l.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	nodes := htmlquery.QuerySelectorAll(root, expr)
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[len(nodes)-1], nil
}

// String 用于日志
func (l *Locator) String() string {
	return fmt.Sprintf("%s (递增=%v)", l.Query, l.AttemptToIncrement)
}
