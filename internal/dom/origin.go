package dom

import (
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// CheckMayLoad 判断owner文档能否加载target
// 同源(协议、主机、端口)或data:协议允许,无法解析的地址拒绝
func CheckMayLoad(owner *url.URL, target string) bool {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Scheme, "data") {
		return true
	}
	if owner == nil {
		return false
	}
	return SameOrigin(owner, u)
}

// SameOrigin 比较两个地址是否同源
func SameOrigin(a, b *url.URL) bool {
	schemeA := strings.ToLower(a.Scheme)
	schemeB := strings.ToLower(b.Scheme)
	if schemeA == "" || schemeA != schemeB {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	return defaultPorts[strings.ToLower(u.Scheme)]
}
