package models

import (
	"encoding/json"
	"time"
)

// SessionResult 单个会话的结束结果
type SessionResult struct {
	SessionID string        `json:"session_id"`
	WindowID  string        `json:"window_id"`
	Location  string        `json:"location"` // 种子文档地址
	Query     string        `json:"query"`    // 结束时的定位器
	Pages     int           `json:"pages"`    // 已合并页数
	Status    SessionStatus `json:"status"`
	Reason    string        `json:"reason"`        // 停止原因代码
	Err       string        `json:"err,omitempty"` // 停止原因描述
	Clean     bool          `json:"clean"`         // 是否为正常停止条件
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
	Duration  float64       `json:"duration"` // 秒
}

// FlattenReport 翻页报告
type FlattenReport struct {
	TaskID  string `json:"task_id"`
	SeedURL string `json:"seed_url"`
	Domain  string `json:"domain"`
	Query   string `json:"query"`
	Mode    Mode   `json:"mode"`
	Fetcher string `json:"fetcher"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	TotalPages  int             `json:"total_pages"`
	Results     []SessionResult `json:"results"`
	OutputFiles []string        `json:"output_files"`
	OutputDir   string          `json:"output_dir"`

	Config CrawlConfig `json:"config"`
}

// ToJSON 序列化为JSON
func (r *FlattenReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *FlattenReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
