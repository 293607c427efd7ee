package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	errMissingColon = errors.New("缺少冒号分隔符,应为 'Name: Value'")
	errEmptyName    = errors.New("头部名称不能为空")
)

// HeaderConfig headers.yaml 的内容,键名经viper处理后为小写
type HeaderConfig struct {
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// CliHeaders -H 参数,每项为 "Name: Value"
type CliHeaders []string

// Parse 解析为http.Header,同名头部后者覆盖前者
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header, len(ch))
	for i, s := range ch {
		name, value, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: %w", i+1, errMissingColon)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: %w", i+1, errEmptyName)
		}
		result.Set(name, strings.TrimSpace(value))
	}
	return result, nil
}

// HeaderProvider 获取器每次请求下一页时调用
// 返回的头部已按 默认 < 配置文件 < 命令行 合并,加载或验证失败时返回错误
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}

// ValidationError 单个头部未通过验证
type ValidationError struct {
	Field      string // "name" 或 "value"
	HeaderName string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("头部验证失败 [%s]: %s", e.HeaderName, e.Reason)
	}
	return fmt.Sprintf("头部验证失败 [%s]: %s (建议: %s)", e.HeaderName, e.Reason, e.Suggestion)
}

// ConfigError 配置文件无法读取或解析
type ConfigError struct {
	FilePath string
	Cause    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}
