package core

import (
	"errors"

	"github.com/RecoveryAshes/Repagination/internal/dom"
)

// 会话停止原因
// 除ErrPanic和获取失败外都是正常结束
var (
	ErrNotRunning        = errors.New("运行标记已被清除")
	ErrCrossOriginDenied = errors.New("下一页与宿主文档不同源")
	ErrLimitReached      = errors.New("已达到页数上限")
	ErrNoNextNode        = errors.New("未找到下一页节点")
	ErrNoProgress        = errors.New("下一页地址未变化")
	ErrLoopDetected      = errors.New("下一页指向已合并过的起始页")
	ErrWindowClosed      = dom.ErrWindowClosed
	ErrPanic             = errors.New("翻页周期内部错误")
)

// 会话启动错误
var (
	ErrNilWindow           = errors.New("窗口为空")
	ErrNilLocator          = errors.New("定位器为空")
	ErrAlreadyStarted      = errors.New("会话已经启动")
	ErrNoMatchingDocuments = errors.New("没有同主机的文档匹配定位器")
)

// 停止原因代码,用于报告和指标标签
const (
	ReasonNotRunning  = "not_running"
	ReasonCrossOrigin = "cross_origin_denied"
	ReasonLimit       = "limit_reached"
	ReasonNoNextNode  = "no_next_node"
	ReasonNoProgress  = "no_progress"
	ReasonLoop        = "loop_detected"
	ReasonWindowGone  = "window_closed"
	ReasonError       = "error"
)

var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrNotRunning, ReasonNotRunning},
	{ErrCrossOriginDenied, ReasonCrossOrigin},
	{ErrLimitReached, ReasonLimit},
	{ErrNoNextNode, ReasonNoNextNode},
	{ErrNoProgress, ReasonNoProgress},
	{ErrLoopDetected, ReasonLoop},
	{ErrWindowClosed, ReasonWindowGone},
}

// ReasonCode 把停止原因映射为固定代码
func ReasonCode(err error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ReasonError
}

// IsCleanStop 停止原因是否属于预期的结束条件
func IsCleanStop(err error) bool {
	return ReasonCode(err) != ReasonError
}
