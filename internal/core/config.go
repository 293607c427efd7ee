package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

// EnvPrefix 环境变量前缀,如 REPAGINATION_CRAWL_PAGE_LIMIT
const EnvPrefix = "REPAGINATION"

// Config 应用程序配置
type Config struct {
	Crawl   models.CrawlConfig `mapstructure:"crawl"`
	Logging LoggingConfig      `mapstructure:"logging"`
	Output  OutputConfig       `mapstructure:"output"`
	Metrics MetricsConfig      `mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Console  bool           `mapstructure:"console"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	WriteReport bool   `mapstructure:"write_report"`
}

// MetricsConfig 指标端点配置,Addr为空时不启动
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig 加载配置文件
// configPath为空时依次搜索 ./configs、当前目录和 ~/.repagination,找不到文件时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".repagination"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.page_limit", 0)
	v.SetDefault("crawl.slideshow_seconds", 0)
	v.SetDefault("crawl.fetcher", string(models.FetcherStatic))
	v.SetDefault("crawl.allow_scripts", false)
	v.SetDefault("crawl.strip_styles", false)
	v.SetDefault("crawl.wait_time", 0)
	v.SetDefault("crawl.timeout", 30)
	v.SetDefault("crawl.max_retries", 5)
	v.SetDefault("crawl.browser_tabs", 4)
	v.SetDefault("crawl.headless", true)
	v.SetDefault("crawl.yield_ms", int(DefaultYieldEvery.Milliseconds()))
	v.SetDefault("crawl.domain", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.write_report", true)

	v.SetDefault("metrics.addr", "")
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
		Console:    c.Logging.Console,
	}
}

// CLIOverrides 命令行参数,负值或空值表示未指定
type CLIOverrides struct {
	PageLimit        int
	SlideshowSeconds int
	Fetcher          string
	AllowScripts     *bool
	StripStyles      *bool
	Domain           *bool
	WaitTime         int
	Timeout          int
	MaxRetries       int
	Headless         *bool
	OutputDir        string
	MetricsAddr      string
}

// MergeCLIFlags 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.PageLimit >= 0 {
		c.Crawl.PageLimit = o.PageLimit
	}
	if o.SlideshowSeconds >= 0 {
		c.Crawl.SlideshowSeconds = o.SlideshowSeconds
	}
	if o.Fetcher != "" {
		c.Crawl.Fetcher = o.Fetcher
	}
	if o.WaitTime >= 0 {
		c.Crawl.WaitTime = o.WaitTime
	}
	if o.Timeout > 0 {
		c.Crawl.Timeout = o.Timeout
	}
	if o.MaxRetries >= 0 {
		c.Crawl.MaxRetries = o.MaxRetries
	}
	if o.AllowScripts != nil {
		c.Crawl.AllowScripts = *o.AllowScripts
	}
	if o.StripStyles != nil {
		c.Crawl.StripStyles = *o.StripStyles
	}
	if o.Domain != nil {
		c.Crawl.Domain = *o.Domain
	}
	if o.Headless != nil {
		c.Crawl.Headless = *o.Headless
	}
	if o.OutputDir != "" {
		c.Output.BaseDir = o.OutputDir
	}
	if o.MetricsAddr != "" {
		c.Metrics.Addr = o.MetricsAddr
	}
}

// NoOverrides 所有字段都表示"未指定"
func NoOverrides() CLIOverrides {
	return CLIOverrides{
		PageLimit:        -1,
		SlideshowSeconds: -1,
		WaitTime:         -1,
		MaxRetries:       -1,
	}
}
