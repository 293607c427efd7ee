package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/Repagination/internal/core"
	"github.com/RecoveryAshes/Repagination/internal/crawlers"
	"github.com/RecoveryAshes/Repagination/internal/metrics"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile  string
	headersFile string
	verbose     bool
	logLevel    string

	// HTTP头部参数
	headers        []string
	validateConfig bool

	// 翻页参数
	targetURL    string
	urlFile      string
	withURLs     []string
	anchorXPath  string
	anchorText   string
	query        string
	pageLimit    int
	slideshow    int
	domain       bool
	fetcherKind  string
	allowScripts bool
	stripStyles  bool
	waitTime     int
	timeout      int
	maxRetries   int
	headless     bool
	outputDir    string
	metricsAddr  string
)

// appConfig 由PersistentPreRunE加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "repagination",
	Short: "把分页的网页合并为一个文档",
	Long: `Repagination - 自动翻页并把后续页面合并到第一页

从起始页选择"下一页"链接,推导出能在后续页面上找到同一链接的XPath定位器,
然后逐页获取并把页面内容追加到起始文档(或以幻灯片方式整体替换)。

示例:
  # 按链接文本选择锚点
  repagination -u "https://example.com/list?page=1" --text "下一页"

  # 最多合并10页,使用浏览器获取
  repagination -u https://example.com/list --anchor "//a[@rel='next']" -n 10 --fetcher rod

  # 对同主机的多个文档同时翻页
  repagination -u https://example.com/a --with https://example.com/b --text "Next" --domain

  # 自定义请求头
  repagination -u https://example.com -H "Cookie: sid=abc" --text "下一页"

  # 只打印推导出的定位器
  repagination query -u https://example.com --text "下一页"

  # 验证头部配置文件
  repagination --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}

		config.MergeCLIFlags(collectOverrides(cmd))
		appConfig = config
		return nil
	},
	RunE: runFlatten,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "只打印为锚点推导出的定位器",
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetURL == "" {
			return cmd.Help()
		}
		if err := ValidateFlags(targetURL, "", anchorXPath, anchorText, query); err != nil {
			return err
		}

		headerManager, err := core.NewHeaderManager(headersFile, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}
		fetcher, err := crawlers.NewFetcher(appConfig.Crawl, headerManager)
		if err != nil {
			return err
		}
		defer fetcher.Close()

		flattener := core.NewFlattener(appConfig, fetcher)
		loc, err := flattener.Query(cmd.Context(), core.FlattenRequest{
			SeedURL: targetURL,
			Anchor:  anchorXPath,
			Text:    anchorText,
			Query:   query,
		})
		if err != nil {
			return err
		}

		fmt.Println(loc.Query)
		if loc.AttemptToIncrement {
			utils.Info("该定位器会在翻页时尝试递增数字")
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Repagination %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func runFlatten(cmd *cobra.Command, args []string) error {
	headerManager, err := core.NewHeaderManager(headersFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	if validateConfig {
		return validateHeaders(headerManager)
	}

	if targetURL == "" && urlFile == "" {
		return cmd.Help()
	}
	if err := ValidateFlags(targetURL, urlFile, anchorXPath, anchorText, query); err != nil {
		return err
	}
	if err := appConfig.Crawl.Validate(); err != nil {
		return fmt.Errorf("无效的翻页配置: %w", err)
	}

	seeds := []string{targetURL}
	if urlFile != "" {
		seeds, err = utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return fmt.Errorf("读取URL文件失败: %w", err)
		}
	}

	if appConfig.Metrics.Addr != "" {
		srv := metrics.Serve(appConfig.Metrics.Addr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	fetcher, err := crawlers.NewFetcher(appConfig.Crawl, headerManager)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		mu      sync.Mutex
		current *core.Flattener
	)
	stopSignals := handleSignals(func() {
		mu.Lock()
		if current != nil {
			current.Stop()
		}
		mu.Unlock()
		cancel()
	})
	defer stopSignals()

	failed := 0
	for i, seed := range seeds {
		if ctx.Err() != nil {
			utils.Warnf("任务已取消, 跳过剩余 %d 个URL", len(seeds)-i)
			break
		}
		if len(seeds) > 1 {
			utils.Infof("[%d/%d] %s", i+1, len(seeds), seed)
		}

		flattener := core.NewFlattener(appConfig, fetcher)
		mu.Lock()
		current = flattener
		mu.Unlock()

		report, err := flattener.Run(ctx, core.FlattenRequest{
			SeedURL: seed,
			With:    withURLs,
			Anchor:  anchorXPath,
			Text:    anchorText,
			Query:   query,
		})
		if err != nil {
			if len(seeds) == 1 {
				return fmt.Errorf("翻页失败: %w", err)
			}
			utils.Errorf("翻页失败 [%s]: %v", seed, err)
			failed++
			continue
		}
		printSummary(report.TotalPages, report.Duration, report.Results, report.OutputFiles)
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d 个URL翻页失败", failed, len(seeds))
	}
	utils.Info("✨ 翻页任务完成!")
	return nil
}

// handleSignals 第一次中断停止所有会话,第二次直接退出
func handleSignals(stop func()) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			utils.Warnf("收到中断信号: %v, 正在停止翻页会话...", sig)
			stop()
		case <-done:
			return
		}
		select {
		case <-sigChan:
			utils.Warn("再次收到中断信号, 强制退出")
			os.Exit(130)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func validateHeaders(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证HTTP头部配置...")
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for name, value := range safeHeaders {
		utils.Infof("  %s: %s", name, value)
	}
	return nil
}

// collectOverrides 只收集用户显式指定的参数
func collectOverrides(cmd *cobra.Command) core.CLIOverrides {
	o := core.NoOverrides()
	flags := cmd.Flags()

	if flags.Changed("limit") {
		o.PageLimit = pageLimit
	}
	if flags.Changed("slideshow") {
		o.SlideshowSeconds = slideshow
	}
	if flags.Changed("fetcher") {
		o.Fetcher = fetcherKind
	}
	if flags.Changed("wait") {
		o.WaitTime = waitTime
	}
	if flags.Changed("timeout") {
		o.Timeout = timeout
	}
	if flags.Changed("retries") {
		o.MaxRetries = maxRetries
	}
	if flags.Changed("allow-scripts") {
		o.AllowScripts = &allowScripts
	}
	if flags.Changed("strip-styles") {
		o.StripStyles = &stripStyles
	}
	if flags.Changed("domain") {
		o.Domain = &domain
	}
	if flags.Changed("headless") {
		o.Headless = &headless
	}
	if flags.Changed("output") {
		o.OutputDir = outputDir
	}
	if flags.Changed("metrics-addr") {
		o.MetricsAddr = metricsAddr
	}
	return o
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&headersFile, "headers-file", "", "HTTP头部配置文件路径 (默认: configs/headers.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证HTTP头部配置文件")

	// 锚点选择,根命令和query子命令共用
	rootCmd.PersistentFlags().StringVarP(&targetURL, "url", "u", "", "起始页URL")
	rootCmd.PersistentFlags().StringVar(&anchorXPath, "anchor", "", "选择\"下一页\"锚点的XPath")
	rootCmd.PersistentFlags().StringVarP(&anchorText, "text", "t", "", "按链接文本选择\"下一页\"锚点")
	rootCmd.PersistentFlags().StringVarP(&query, "query", "q", "", "直接使用的定位器XPath,跳过推导")
	rootCmd.PersistentFlags().StringVar(&fetcherKind, "fetcher", "static", "获取方式 (static|rod|chromedp)")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "单页获取超时(秒)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "无头浏览器模式")

	// 翻页参数
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含起始页URL列表的文件,逐个翻页")
	rootCmd.Flags().StringSliceVar(&withURLs, "with", nil, "一起打开的其他文档,配合 --domain 使用")
	rootCmd.Flags().IntVarP(&pageLimit, "limit", "n", 0, "最多合并的页数,0表示不限")
	rootCmd.Flags().IntVar(&slideshow, "slideshow", 0, "幻灯片模式的切换间隔(秒),0表示追加模式")
	rootCmd.Flags().BoolVar(&domain, "domain", false, "对同主机的所有已打开文档翻页")
	rootCmd.Flags().BoolVar(&allowScripts, "allow-scripts", false, "浏览器获取时执行页面脚本")
	rootCmd.Flags().BoolVar(&stripStyles, "strip-styles", false, "合并前移除<style>元素")
	rootCmd.Flags().IntVarP(&waitTime, "wait", "w", 0, "浏览器加载后的等待时间(秒)")
	rootCmd.Flags().IntVar(&maxRetries, "retries", 5, "获取失败的重试次数")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus指标监听地址,如 :9100")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		if errors.Is(err, core.ErrNoMatchingDocuments) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
