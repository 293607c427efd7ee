package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/Repagination/internal/crawlers"
	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/locator"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

func testConfig(baseDir string) *Config {
	return &Config{
		Crawl: models.CrawlConfig{
			Fetcher:     string(models.FetcherStatic),
			Timeout:     5,
			BrowserTabs: 1,
		},
		Output: OutputConfig{BaseDir: baseDir, WriteReport: true},
	}
}

// listServer 提供 /list?page=1..last,最后一页没有下一页链接
func listServer(t *testing.T, last int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscanf(r.URL.Query().Get("page"), "%d", &n); err != nil || n < 1 || n > last {
			http.NotFound(w, r)
			return
		}
		next := ""
		if n < last {
			next = fmt.Sprintf(`<a href="/list?page=%d">下一页</a>`, n+1)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><head><title>第%d页</title></head><body><p>条目%d</p>%s</body></html>`, n, n, next)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFlattenerRun(t *testing.T) {
	srv := listServer(t, 3)
	dir := t.TempDir()
	cfg := testConfig(dir)

	fetcher := crawlers.NewStaticFetcher(cfg.Crawl, nil)
	defer fetcher.Close()

	f := NewFlattener(cfg, fetcher)
	f.ShowProgress = false

	report, err := f.Run(context.Background(), FlattenRequest{
		SeedURL: srv.URL + "/list?page=1",
		Text:    "下一页",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalPages)
	require.Len(t, report.Results, 1)
	assert.Equal(t, ReasonNoNextNode, report.Results[0].Reason)
	assert.Equal(t, `(//a[normalize-space(.)='下一页'])[last()]`, report.Query)
	assert.Equal(t, models.ModeAppend, report.Mode)

	require.Len(t, report.OutputFiles, 1)
	data, err := os.ReadFile(report.OutputFiles[0])
	require.NoError(t, err)
	out := string(data)
	for _, want := range []string{"条目1", "条目2", "条目3"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "<title>第1页</title>")
	assert.NotContains(t, out, dom.RunningAttr+"=")

	saved, err := utils.NewReporter(dir, report.Domain).LoadReport()
	require.NoError(t, err)
	assert.Equal(t, report.TaskID, saved.TaskID)
	assert.Equal(t, 2, saved.TotalPages)
}

func TestFlattenerRunWithQuery(t *testing.T) {
	srv := listServer(t, 5)
	cfg := testConfig("")
	cfg.Crawl.PageLimit = 2

	fetcher := crawlers.NewStaticFetcher(cfg.Crawl, nil)
	defer fetcher.Close()

	f := NewFlattener(cfg, fetcher)
	f.ShowProgress = false

	report, err := f.Run(context.Background(), FlattenRequest{
		SeedURL: srv.URL + "/list?page=1",
		Query:   "//a[contains(@href, 'page=')]",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalPages)
	assert.Equal(t, ReasonLimit, report.Results[0].Reason)
	assert.Empty(t, report.OutputFiles)
}

func TestFlattenerDomainMode(t *testing.T) {
	archiveURL := "http://example.com/archive?page=1"
	pages := chain(3)
	pages[seedURL] = listPage(1, "/list?page=2")
	pages[archiveURL] = `<html><head><title>归档</title></head><body><a id="next" href="/archive?page=2">下一页</a></body></html>`
	pages["http://example.com/archive?page=2"] = `<html><body><p>归档2</p></body></html>`
	pages["http://other.example.com/"] = listPage(1, "/list?page=2")

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Crawl.Domain = true

	f := NewFlattener(cfg, newFakeFetcher(pages))
	f.ShowProgress = false

	report, err := f.Run(context.Background(), FlattenRequest{
		SeedURL: seedURL,
		With:    []string{archiveURL, "http://other.example.com/", "http://example.com/missing"},
		Anchor:  "//a[@id='next']",
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, 3, report.TotalPages)
	require.Len(t, report.OutputFiles, 2)
	assert.True(t, strings.HasSuffix(report.OutputFiles[0], "flattened_1.html"))
	assert.True(t, strings.HasSuffix(report.OutputFiles[1], "flattened_2.html"))
}

func TestFlattenerQuery(t *testing.T) {
	pages := map[string]string{
		seedURL: `<html><body><div class="pager"><a href="/list?page=2">下一页</a></div></body></html>`,
	}
	f := NewFlattener(testConfig(""), newFakeFetcher(pages))

	loc, err := f.Query(context.Background(), FlattenRequest{SeedURL: seedURL, Text: "下一页"})
	require.NoError(t, err)
	assert.Equal(t, `(//div[@class='pager']//a[normalize-space(.)='下一页'])[last()]`, loc.Query)

	_, err = f.Query(context.Background(), FlattenRequest{SeedURL: "ftp://example.com/"})
	assert.Error(t, err)
}

func TestSelectAnchor(t *testing.T) {
	doc, err := dom.ParseString(`<html><body>
		<a href="/a">下一页</a>
		<a href="/b"> 下一页 </a>
		<a href="/c">上一页</a>
	</body></html>`, seedURL)
	require.NoError(t, err)

	t.Run("按文本取最后一个", func(t *testing.T) {
		node, err := SelectAnchor(doc, "", "下一页")
		require.NoError(t, err)
		href, _ := dom.GetAttr(node, "href")
		assert.Equal(t, "/b", href)
	})

	t.Run("按XPath", func(t *testing.T) {
		node, err := SelectAnchor(doc, "//a[@href='/c']", "")
		require.NoError(t, err)
		assert.Equal(t, "上一页", dom.TextContent(node))
	})

	t.Run("未找到", func(t *testing.T) {
		_, err := SelectAnchor(doc, "", "尾页")
		assert.ErrorIs(t, err, locator.ErrNoAnchorFound)
	})

	t.Run("没有选择条件", func(t *testing.T) {
		_, err := SelectAnchor(doc, "", "")
		assert.ErrorIs(t, err, ErrNoAnchorSelector)
	})
}
