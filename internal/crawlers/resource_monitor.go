package crawlers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 系统资源监控器
// 根据可用内存和CPU负载决定浏览器标签页池的上限
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 系统内存,由后台采样更新
	totalMemory     uint64
	availableMemory uint64
	mu              sync.RWMutex

	cachedMaxPages int
	lastCacheTime  time.Time
	cacheMu        sync.RWMutex

	lastCPUUsage float64
	cpuUsageMu   sync.RWMutex

	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyThreshold  int64 // 低于该可用内存时不再创建标签页(字节)
	CPULoadThreshold int   // CPU负载阈值(%),>=200视为禁用
	MaxPagesLimit    int   // 绝对最大标签页数
	PageMemoryUsage  int64 // 单个标签页平均内存消耗(字节)
}

// MemoryStatus 内存状态
type MemoryStatus struct {
	TotalMemory     uint64
	AvailableMemory uint64
	MemoryPressure  string // normal | warning | critical
}

// DefaultResourceMonitorConfig 默认配置
func DefaultResourceMonitorConfig(maxPages int) ResourceMonitorConfig {
	if maxPages < 1 {
		maxPages = 1
	}
	return ResourceMonitorConfig{
		SafetyThreshold:  500 * 1024 * 1024,
		CPULoadThreshold: 90,
		MaxPagesLimit:    maxPages,
		PageMemoryUsage:  100 * 1024 * 1024,
	}
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.PageMemoryUsage == 0 {
		config.PageMemoryUsage = 100 * 1024 * 1024
	}
	if config.MaxPagesLimit < 1 {
		config.MaxPagesLimit = 1
	}

	rm := &ResourceMonitor{config: config}
	rm.sampleMemory()

	rm.mu.RLock()
	total := rm.totalMemory
	rm.mu.RUnlock()
	log.Debug().Msgf("系统总内存: %.2f GB", float64(total)/(1024*1024*1024))

	return rm
}

// sampleMemory 读取系统内存,失败时假定4GB
func (rm *ResourceMonitor) sampleMemory() {
	vmStat, err := mem.VirtualMemory()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,使用默认值")
		rm.totalMemory = 4 * 1024 * 1024 * 1024
		rm.availableMemory = rm.totalMemory / 2
		return
	}
	rm.totalMemory = vmStat.Total
	rm.availableMemory = vmStat.Available
}

// StartMonitoring 启动后台采样,重复调用无副作用
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.sampleMemory()

			cpuUsage := rm.getCPUUsage()
			rm.cpuUsageMu.Lock()
			rm.lastCPUUsage = cpuUsage
			rm.cpuUsageMu.Unlock()
		}
	}
}

// getCPUUsage 所有核心的平均CPU使用率
func (rm *ResourceMonitor) getCPUUsage() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
		return 0.0
	}
	if len(percentages) == 0 {
		return 0.0
	}
	return percentages[0]
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// CalculateMaxPages 当前允许的最大标签页数,结果缓存1秒
func (rm *ResourceMonitor) CalculateMaxPages() int {
	rm.cacheMu.RLock()
	if time.Since(rm.lastCacheTime) < time.Second && rm.cachedMaxPages > 0 {
		cached := rm.cachedMaxPages
		rm.cacheMu.RUnlock()
		return cached
	}
	rm.cacheMu.RUnlock()

	rm.mu.RLock()
	available := int64(rm.availableMemory)
	rm.mu.RUnlock()

	maxByMemory := 1
	if available > rm.config.SafetyThreshold {
		maxByMemory = int((available - rm.config.SafetyThreshold) / rm.config.PageMemoryUsage)
	}

	result := min(maxByMemory, runtime.NumCPU(), rm.config.MaxPagesLimit)
	if result < 1 {
		result = 1
	}

	rm.cacheMu.Lock()
	rm.cachedMaxPages = result
	rm.lastCacheTime = time.Now()
	rm.cacheMu.Unlock()

	return result
}

// CheckResourceAvailability 是否允许再创建一个标签页
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	rm.mu.RLock()
	available := int64(rm.availableMemory)
	rm.mu.RUnlock()

	if available < rm.config.SafetyThreshold {
		return false, fmt.Sprintf("内存不足(当前%dMB)", available/(1024*1024))
	}

	if rm.config.CPULoadThreshold < 200 {
		rm.cpuUsageMu.RLock()
		cpuUsage := rm.lastCPUUsage
		rm.cpuUsageMu.RUnlock()

		if cpuUsage > float64(rm.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", cpuUsage)
		}
	}

	return true, ""
}

// GetMemoryStatus 当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	availableMB := rm.availableMemory / (1024 * 1024)
	pressure := "normal"
	switch {
	case availableMB < 300:
		pressure = "critical"
	case availableMB < 500:
		pressure = "warning"
	}

	return MemoryStatus{
		TotalMemory:     rm.totalMemory,
		AvailableMemory: rm.availableMemory,
		MemoryPressure:  pressure,
	}
}
