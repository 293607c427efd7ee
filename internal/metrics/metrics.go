// Package metrics 翻页引擎的Prometheus指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry 独立注册表,不使用全局默认注册表
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// PagesMerged 已合并页面数
	PagesMerged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repagination_pages_merged_total",
			Help: "Total number of pages merged into owning documents",
		},
		[]string{"mode"},
	)

	// SessionsStarted 已启动会话数
	SessionsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "repagination_sessions_started_total",
			Help: "Total number of crawl sessions started",
		},
	)

	// SessionsStopped 按停止原因统计的会话数
	SessionsStopped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repagination_sessions_stopped_total",
			Help: "Total number of crawl sessions stopped, by reason",
		},
		[]string{"reason"},
	)

	// ActiveSessions 运行中的会话数
	ActiveSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "repagination_active_sessions",
			Help: "Number of crawl sessions currently running",
		},
	)

	// FetchDuration 单页获取耗时
	FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repagination_fetch_duration_seconds",
			Help:    "Time spent fetching a single page",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fetcher"},
	)

	// FetchRetries 获取重试次数
	FetchRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repagination_fetch_retries_total",
			Help: "Total number of fetch retries",
		},
		[]string{"fetcher"},
	)

	// BrowserPages 浏览器标签页池当前大小
	BrowserPages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "repagination_browser_pages",
			Help: "Number of browser pages currently held by the page pool",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler 指标HTTP处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Server 指标HTTP服务
type Server struct {
	srv *http.Server
}

// Serve 在后台启动指标服务
func Serve(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	go func() {
		log.Info().Str("addr", addr).Msg("📈 指标服务已启动")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("指标服务异常退出")
		}
	}()

	return s
}

// Shutdown 关闭指标服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
