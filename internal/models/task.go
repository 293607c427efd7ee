package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SessionStatus 会话状态
type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"    // 未启动
	SessionRunning SessionStatus = "running" // 翻页中
	SessionStopped SessionStatus = "stopped" // 已停止
)

// Mode 合并模式
type Mode string

const (
	ModeAppend    Mode = "append"    // 追加到当前文档
	ModeSlideshow Mode = "slideshow" // 整体替换,按间隔切换
)

// ParseMode 解析合并模式
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeSlideshow:
		return ModeSlideshow, nil
	default:
		return "", fmt.Errorf("无效的合并模式: %s (可选: append, slideshow)", s)
	}
}

// FetcherKind 页面获取方式
type FetcherKind string

const (
	FetcherStatic   FetcherKind = "static"   // colly直接请求
	FetcherRod      FetcherKind = "rod"      // go-rod浏览器
	FetcherChromedp FetcherKind = "chromedp" // chromedp浏览器
)

// CrawlConfig 翻页配置
type CrawlConfig struct {
	PageLimit        int    `mapstructure:"page_limit" json:"page_limit"`               // 页数上限,0表示不限 (默认:0)
	SlideshowSeconds int    `mapstructure:"slideshow_seconds" json:"slideshow_seconds"` // 幻灯片间隔(秒),0表示追加模式
	Fetcher          string `mapstructure:"fetcher" json:"fetcher"`                     // static | rod | chromedp (默认:static)
	AllowScripts     bool   `mapstructure:"allow_scripts" json:"allow_scripts"`         // 浏览器获取时是否执行脚本
	StripStyles      bool   `mapstructure:"strip_styles" json:"strip_styles"`           // 合并前是否移除<style>
	WaitTime         int    `mapstructure:"wait_time" json:"wait_time"`                 // 浏览器加载后等待时间(秒)
	Timeout          int    `mapstructure:"timeout" json:"timeout"`                     // 单页获取超时(秒) (默认:30)
	MaxRetries       int    `mapstructure:"max_retries" json:"max_retries"`             // 获取失败重试次数 (默认:5)
	BrowserTabs      int    `mapstructure:"browser_tabs" json:"browser_tabs"`           // 浏览器标签页上限 (默认:4)
	Headless         bool   `mapstructure:"headless" json:"headless"`                   // 无头模式 (默认:true)
	YieldMs          int    `mapstructure:"yield_ms" json:"yield_ms"`                   // 合并时让出调度的时间片(毫秒) (默认:60)
	Domain           bool   `mapstructure:"domain" json:"domain"`                       // 对同主机的所有窗口翻页
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.PageLimit < 0 {
		return fmt.Errorf("页数上限不能为负数")
	}
	if c.SlideshowSeconds < 0 || c.SlideshowSeconds > 3600 {
		return fmt.Errorf("幻灯片间隔必须在0-3600秒之间")
	}
	switch FetcherKind(c.Fetcher) {
	case FetcherStatic, FetcherRod, FetcherChromedp:
	default:
		return fmt.Errorf("无效的获取方式: %s (可选: static, rod, chromedp)", c.Fetcher)
	}
	if c.WaitTime < 0 || c.WaitTime > 60 {
		return fmt.Errorf("等待时间必须在0-60秒之间")
	}
	if c.Timeout < 1 || c.Timeout > 600 {
		return fmt.Errorf("超时时间必须在1-600秒之间")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 20 {
		return fmt.Errorf("重试次数必须在0-20之间")
	}
	if c.BrowserTabs < 1 || c.BrowserTabs > 20 {
		return fmt.Errorf("标签页数必须在1-20之间")
	}
	if c.YieldMs < 0 {
		return fmt.Errorf("让出时间片不能为负数")
	}
	return nil
}

// Mode 由幻灯片间隔推导合并模式
func (c *CrawlConfig) Mode() Mode {
	if c.SlideshowSeconds > 0 {
		return ModeSlideshow
	}
	return ModeAppend
}

// FlattenTask 一次翻页任务
type FlattenTask struct {
	ID          string     `json:"id"`
	SeedURL     string     `json:"seed_url"`
	Domain      string     `json:"domain"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Config CrawlConfig `json:"config"`
	Mode   Mode        `json:"mode"`
	Query  string      `json:"query,omitempty"` // 使用的定位器
}

// NewFlattenTask 创建新任务
func NewFlattenTask(seedURL string, config CrawlConfig) (*FlattenTask, error) {
	if err := ValidateURL(seedURL); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	parsed, _ := url.Parse(seedURL)

	return &FlattenTask{
		ID:        generateID(),
		SeedURL:   seedURL,
		Domain:    parsed.Host,
		CreatedAt: time.Now(),
		Config:    config,
		Mode:      config.Mode(),
	}, nil
}

// ToJSON 序列化为JSON
func (t *FlattenTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}
