// Package crawlers 提供翻页引擎使用的页面获取器
//
// # 概述
//
// 翻页会话每一轮都需要把"下一页"地址获取为一份独立的文档,
// crawlers包把这一步抽象为Fetcher接口,并提供三种实现:
// 直接请求(Colly)、go-rod浏览器和chromedp浏览器。
//
// # 核心组件
//
// ## StaticFetcher
//
// 基于Colly的静态获取器,不执行脚本。
// 应用HeaderProvider提供的请求头和宿主文档的Referer,
// 自定义Accept-Encoding时手动解压gzip/deflate/brotli响应。
//
//	f := NewStaticFetcher(config, headerProvider)
//	page, err := f.Fetch(ctx, "https://example.com/page2", FetchOptions{Referer: ownerURL})
//	defer page.Release()
//
// ## DynamicFetcher
//
// 基于go-rod的浏览器获取器。浏览器在第一次获取时启动,
// 标签页由PagePool借出, FetchedPage.Release时重置为about:blank并归还。
// 默认禁用脚本执行(AllowScripts为true时放开),并关闭图片和插件。
//
// ## PagePool (标签页池)
//
// 标签页按需创建,上限由ResourceMonitor根据可用内存和CPU负载计算。
// 达到上限时AcquirePage阻塞,直到有标签页被归还或上下文取消。
// 清理连续失败的标签页会被销毁。
//
// ## ResourceMonitor (资源监控器)
//
// 使用gopsutil周期性采样系统内存和CPU使用率:
//   - 可用内存低于安全阈值时不再创建新标签页
//   - CPU负载超过阈值时不再创建新标签页
//   - CalculateMaxPages结果缓存1秒
//
// ## ChromeFetcher
//
// chromedp实现,每次获取打开一个新标签页, Release时关闭。
// 适用于rod的launcher无法管理浏览器进程的环境。
//
// ## RetryFetcher
//
// 包装任意Fetcher,失败后最多重试DefaultMaxRetries(5)次,退避时间线性增长。
// 上下文取消和不支持的协议不重试,最终错误总是返回给调用方。
//
// # 释放语义
//
// FetchedPage.Release可以重复调用,也可以在宿主窗口关闭之后调用。
// 翻页会话在每一轮结束时无条件调用Release。
package crawlers
