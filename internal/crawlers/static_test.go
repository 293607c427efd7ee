package crawlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/Repagination/internal/models"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h), nil
}

func testConfig() models.CrawlConfig {
	return models.CrawlConfig{
		Fetcher:     string(models.FetcherStatic),
		Timeout:     5,
		MaxRetries:  0,
		BrowserTabs: 1,
	}
}

func TestStaticFetcherFetch(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>第二页</title></head><body><p>hello</p></body></html>`))
	}))
	defer srv.Close()

	headers := staticHeaders{}
	http.Header(headers).Set("User-Agent", "repagination-test")
	f := NewStaticFetcher(testConfig(), headers)
	defer f.Close()

	page, err := f.Fetch(context.Background(), srv.URL+"/page2", FetchOptions{Referer: srv.URL + "/page1"})
	require.NoError(t, err)
	defer page.Release()

	assert.Equal(t, srv.URL+"/page2", page.URL)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "第二页", page.Doc.Title())
	assert.Equal(t, "repagination-test", gotUA)
	assert.Equal(t, srv.URL+"/page1", gotReferer)
}

func TestStaticFetcherFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<body>moved</body>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewStaticFetcher(testConfig(), nil)
	page, err := f.Fetch(context.Background(), srv.URL+"/old", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", page.URL)
	assert.Equal(t, srv.URL+"/new", page.Doc.Location())
}

func TestStaticFetcherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewStaticFetcher(testConfig(), nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing", FetchOptions{})
	assert.Error(t, err)
}

func TestStaticFetcherBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write([]byte(`<body><p id="br">compressed</p></body>`))
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	headers := staticHeaders{}
	http.Header(headers).Set("Accept-Encoding", "gzip, deflate, br")
	f := NewStaticFetcher(testConfig(), headers)

	page, err := f.Fetch(context.Background(), srv.URL, FetchOptions{})
	require.NoError(t, err)
	assert.Contains(t, page.Doc.String(), `id="br"`)
}

func TestStaticFetcherUnsupportedScheme(t *testing.T) {
	f := NewStaticFetcher(testConfig(), nil)
	_, err := f.Fetch(context.Background(), "data:text/html,<p>x</p>", FetchOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDecompressResponse(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte("<p>gz</p>"))
	require.NoError(t, zw.Close())

	out, err := decompressResponse("gzip", gz.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "<p>gz</p>", string(out))

	// 已经解压过的内容原样返回
	out, err = decompressResponse("gzip", []byte("<p>plain</p>"))
	require.NoError(t, err)
	assert.Equal(t, "<p>plain</p>", string(out))

	out, err = decompressResponse("", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(out))
}

func TestFetchedPageReleaseOnce(t *testing.T) {
	calls := 0
	page := NewFetchedPage("http://example.com", nil, 200, func() { calls++ })
	page.Release()
	page.Release()
	assert.Equal(t, 1, calls)

	var nilPage *FetchedPage
	nilPage.Release()
}

func TestNewFetcherKinds(t *testing.T) {
	cfg := testConfig()
	f, err := NewFetcher(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", f.Type())

	cfg.Fetcher = "rod"
	f, err = NewFetcher(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "rod", f.Type())
	require.NoError(t, f.Close())

	cfg.Fetcher = "chromedp"
	f, err = NewFetcher(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "chromedp", f.Type())
	require.NoError(t, f.Close())

	cfg.Fetcher = "wget"
	_, err = NewFetcher(cfg, nil)
	assert.Error(t, err)
}
