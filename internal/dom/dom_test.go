package dom

import (
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const samplePage = `<html><head><title>第一页</title></head>
<body><div id="content"><a id="next" href="page2.html">next</a></div></body></html>`

func mustParse(t *testing.T, content, location string) *Document {
	t.Helper()
	doc, err := ParseString(content, location)
	require.NoError(t, err)
	return doc
}

func TestDocumentTitle(t *testing.T) {
	doc := mustParse(t, samplePage, "http://example.com/a/page1.html")
	assert.Equal(t, "第一页", doc.Title())

	doc.SetTitle("Repagination: running…")
	assert.Equal(t, "Repagination: running…", doc.Title())
}

func TestSetTitleCreatesTitle(t *testing.T) {
	doc := mustParse(t, `<p>no title</p>`, "http://example.com/")
	assert.Equal(t, "", doc.Title())

	doc.SetTitle("新标题")
	assert.Equal(t, "新标题", doc.Title())
}

func TestRunningFlag(t *testing.T) {
	doc := mustParse(t, samplePage, "http://example.com/")
	assert.False(t, doc.IsRunning())

	doc.SetRunning(true)
	assert.True(t, doc.IsRunning())
	assert.Contains(t, doc.String(), `repagination="true"`)

	doc.SetRunning(false)
	assert.False(t, doc.IsRunning())
}

func TestResolveHref(t *testing.T) {
	doc := mustParse(t, samplePage, "http://example.com/a/page1.html")
	var anchor *html.Node
	require.NoError(t, doc.WithRLock(func(root *html.Node, _ *url.URL) error {
		anchor = FindElement(root, atom.A)
		return nil
	}))

	href, ok := doc.ResolveHref(anchor)
	require.True(t, ok)
	assert.Equal(t, "http://example.com/a/page2.html", href)
}

func TestResolveHrefHonoursBase(t *testing.T) {
	doc := mustParse(t, `<html><head><base href="/archive/"></head><body><a href="p2">n</a></body></html>`,
		"http://example.com/a/page1.html")
	anchor := FindElement(doc.Root(), atom.A)

	href, ok := doc.ResolveHref(anchor)
	require.True(t, ok)
	assert.Equal(t, "http://example.com/archive/p2", href)
}

func TestResolveHrefMissing(t *testing.T) {
	doc := mustParse(t, `<a name="x">n</a>`, "http://example.com/")
	_, ok := doc.ResolveHref(FindElement(doc.Root(), atom.A))
	assert.False(t, ok)
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "http://example.com/list?page=1", NormalizeLocation(" http://example.com/list?page=1#top "))
	assert.Equal(t, "http://example.com/list?page=1", NormalizeLocation("http://example.com/list?page=1#"))
	assert.Equal(t, NormalizeLocation("http://example.com/a"), NormalizeLocation("http://example.com/a#b%20c"))
	assert.Equal(t, "::bad", NormalizeLocation("::bad"))
}

func TestEvents(t *testing.T) {
	doc := mustParse(t, samplePage, "http://example.com/")
	var fired []string
	doc.AddEventListener(EventDOMContentLoaded, func(*Document) { fired = append(fired, EventDOMContentLoaded) })
	doc.AddEventListener(EventLoad, func(d *Document) {
		// 监听器可以访问文档而不会死锁
		_ = d.Title()
		fired = append(fired, EventLoad)
	})

	doc.DispatchEvent(EventDOMContentLoaded)
	doc.DispatchEvent(EventLoad)
	assert.Equal(t, []string{EventDOMContentLoaded, EventLoad}, fired)
}

func TestCheckMayLoad(t *testing.T) {
	owner, _ := url.Parse("http://example.com/page1")

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"同源", "http://example.com/page2", true},
		{"显式默认端口", "http://example.com:80/page2", true},
		{"不同主机", "http://other.com/page2", false},
		{"不同协议", "https://example.com/page2", false},
		{"不同端口", "http://example.com:8080/page2", false},
		{"data协议", "data:text/html,<p>x</p>", true},
		{"无法解析", "http://[::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckMayLoad(owner, tt.target))
		})
	}
}

func TestWorkspace(t *testing.T) {
	ws := NewWorkspace()
	a := ws.Open(mustParse(t, samplePage, "http://example.com/1"))
	b := ws.Open(mustParse(t, samplePage, "http://example.com/2"))

	require.Len(t, ws.Windows(), 2)
	assert.Equal(t, a.ID(), ws.Windows()[0].ID())

	ws.Close(a.ID())
	assert.False(t, a.IsOpen())
	_, ok := a.Document()
	assert.False(t, ok)

	windows := ws.Windows()
	require.Len(t, windows, 1)
	assert.Equal(t, b.ID(), windows[0].ID())

	_, ok = ws.Lookup(a.ID())
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	doc := mustParse(t, samplePage, "http://example.com/")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc.SetRunning(i%2 == 0)
			_ = doc.IsRunning()
			_ = doc.String()
		}(i)
	}
	wg.Wait()
}
