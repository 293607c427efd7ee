package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/Repagination/internal/config"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// DefaultUserAgent 默认User-Agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// HeaderManager 获取下一页时使用的请求头
// 优先级: 默认 < 配置文件 < 命令行。实现models.HeaderProvider,可被多个会话并发调用
type HeaderManager struct {
	defaults http.Header
	cli      http.Header

	validator    *utils.HeaderValidator
	redactor     *utils.HeaderRedactor
	configLoader *config.HeaderConfigLoader

	mu     sync.Mutex
	config http.Header
	merged http.Header
	err    error
	loaded bool
}

// NewHeaderManager 创建头部管理器,命令行头部格式错误时返回错误
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}

	return &HeaderManager{
		defaults:     defaultHeaders(),
		cli:          cli,
		validator:    utils.NewHeaderValidator(),
		redactor:     utils.NewHeaderRedactor(),
		configLoader: config.NewHeaderConfigLoader(configFile),
	}, nil
}

func defaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"zh-CN,zh;q=0.9,en;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// load 加载并验证一次,结果(包括错误)被缓存
func (hm *HeaderManager) load() (http.Header, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.loaded {
		return hm.merged, hm.err
	}
	hm.loaded = true

	headerConfig, err := hm.configLoader.LoadConfig()
	if err != nil {
		utils.Errorf("加载HTTP头部配置失败: %v", err)
		hm.err = err
		return nil, err
	}
	hm.config = make(http.Header, len(headerConfig.Headers))
	for name, value := range headerConfig.Headers {
		hm.config.Set(name, value)
	}

	for _, layer := range []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.config},
		{"命令行", hm.cli},
	} {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.name, err)
			hm.err = err
			return nil, err
		}
	}

	hm.merged = mergeHeaders(hm.defaults, hm.config, hm.cli)
	utils.Debugf("HTTP头部已加载: %s", hm.redactor.RedactToString(hm.merged))
	return hm.merged, nil
}

// mergeHeaders 后面的层覆盖前面的同名头部
func mergeHeaders(layers ...http.Header) http.Header {
	result := make(http.Header)
	for _, layer := range layers {
		for name, values := range layer {
			result[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
	return result
}

// Validate 加载并验证所有头部
func (hm *HeaderManager) Validate() error {
	_, err := hm.load()
	return err
}

// GetHeaders 实现HeaderProvider接口,返回副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	merged, err := hm.load()
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	merged, err := hm.load()
	if err != nil {
		return map[string]string{}
	}
	return hm.redactor.Redact(merged)
}
