package utils

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/RecoveryAshes/Repagination/internal/models"
)

// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

// ForbiddenHeaders 禁止用户配置的头部
// 前四个由HTTP客户端管理, Referer由翻页会话按宿主文档设置
var ForbiddenHeaders = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
	"Referer",
}

// HeaderValidator 检查获取器将要发送的请求头
type HeaderValidator struct {
	maxValueLength int
	forbidden      map[string]bool
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	forbidden := make(map[string]bool, len(ForbiddenHeaders))
	for _, h := range ForbiddenHeaders {
		forbidden[http.CanonicalHeaderKey(h)] = true
	}
	return &HeaderValidator{
		maxValueLength: MaxHeaderValueLength,
		forbidden:      forbidden,
	}
}

func invalid(field, name, reason, suggestion string) error {
	return &models.ValidationError{
		Field:      field,
		HeaderName: name,
		Reason:     reason,
		Suggestion: suggestion,
	}
}

// ValidateName 验证头部名称
// 使用RFC 7230 token规则,另外拒绝下划线(很多代理会丢弃带下划线的头部)
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return invalid("name", name, "头部名称不能为空", "")
	}
	if !httpguts.ValidHeaderFieldName(name) || strings.ContainsRune(name, '_') {
		return invalid("name", name,
			"头部名称包含非法字符 (仅允许字母、数字和连字符)",
			"使用字母、数字和连字符 (如 'User-Agent', 'X-Custom-Header')")
	}
	return nil
}

// ValidateValue 验证头部值,只接受可打印ASCII和制表符
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return invalid("value", name,
			fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength))
	}
	if !httpguts.ValidHeaderFieldValue(value) || !isPrintableASCII(value) {
		return invalid("value", name,
			"头部值包含非法字符 (仅允许可打印ASCII字符)",
			"移除控制字符和非ASCII字符")
	}
	return nil
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\t' && (c < 0x20 || c > 0x7e) {
			return false
		}
	}
	return true
}

// ValidateHeader 验证头部名称和值
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if hv.IsForbidden(name) {
		return invalid("name", name,
			"此头部由获取器自动管理,不允许自定义",
			fmt.Sprintf("移除 '%s' 头部配置", name))
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// IsForbidden 检查头部是否被禁止(不区分大小写)
func (hv *HeaderValidator) IsForbidden(name string) bool {
	return hv.forbidden[http.CanonicalHeaderKey(name)]
}

// Validate 验证所有头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	for name, values := range headers {
		for _, value := range values {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
