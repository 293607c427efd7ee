package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/Repagination/internal/dom"
	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

const maxRedirects = 10

// StaticFetcher 静态获取器(使用Colly)
// 不执行脚本,直接解析服务器返回的HTML
type StaticFetcher struct {
	config         models.CrawlConfig
	headerProvider models.HeaderProvider
	transport      *http.Transport
	timeout        time.Duration
}

// NewStaticFetcher 创建静态获取器
func NewStaticFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *StaticFetcher {
	timeout := fetchTimeout(config)

	// 跳过证书验证,允许访问自签名或过期证书的站点
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		MaxIdleConnsPerHost: 4,
	}
	utils.Debugf("静态获取器: HTTP超时设置为 %d 秒", int(timeout.Seconds()))

	return &StaticFetcher{
		config:         config,
		headerProvider: headerProvider,
		transport:      transport,
		timeout:        timeout,
	}
}

// Type 获取器类型
func (sf *StaticFetcher) Type() string {
	return string(models.FetcherStatic)
}

// Close 释放空闲连接
func (sf *StaticFetcher) Close() error {
	sf.transport.CloseIdleConnections()
	return nil
}

// Fetch 获取页面并解析为文档
func (sf *StaticFetcher) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchedPage, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(sf.Type()).Observe(time.Since(start).Seconds())
	}()

	// 每次获取使用独立的collector和客户端,只共享连接池
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetClient(&http.Client{Transport: sf.transport, Timeout: sf.timeout})
	c.SetRequestTimeout(sf.timeout)

	finalURL := parsed.String()
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("重定向次数超过%d次", maxRedirects)
		}
		finalURL = req.URL.String()
		return nil
	})

	var (
		body     []byte
		status   int
		encoding string
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if sf.headerProvider != nil {
			headers, err := sf.headerProvider.GetHeaders()
			if err != nil {
				utils.Warnf("获取HTTP头部失败: %v", err)
			} else {
				for name, values := range headers {
					if len(values) > 0 {
						r.Headers.Set(name, values[0])
					}
				}
			}
		}
		if opts.Referer != "" {
			r.Headers.Set("Referer", opts.Referer)
		}
		utils.Debugf("获取: %s", r.URL.String())
	})

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
		encoding = r.Headers.Get("Content-Encoding")
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(finalURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, context.DeadlineExceeded) {
			return nil, fetchErr
		}
		return nil, fmt.Errorf("获取页面失败 [%s] (状态码=%d): %w", pageURL, status, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, pageURL)
	}

	if encoding != "" {
		decompressed, err := decompressResponse(encoding, body)
		if err != nil {
			utils.Warnf("解压响应失败 [%s] (编码=%s): %v", pageURL, encoding, err)
		} else {
			body = decompressed
		}
	}

	doc, err := dom.Parse(bytes.NewReader(body), finalURL)
	if err != nil {
		return nil, err
	}

	return NewFetchedPage(finalURL, doc, status, nil), nil
}

// decompressResponse 解压仍带Content-Encoding的响应体
// 自定义Accept-Encoding时Transport不会自动解压
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		// colly已自行解压gzip时只剩下原始HTML
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return io.ReadAll(reader)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
