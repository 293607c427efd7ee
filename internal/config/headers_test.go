package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RecoveryAshes/Repagination/internal/models"
)

func TestLoadConfigGeneratesTemplate(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "headers.yaml")
	loader := NewHeaderConfigLoader(configPath)

	cfg, err := loader.LoadConfig()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("配置文件应该被自动生成: %v", err)
	}
	if cfg.Headers == nil || len(cfg.Headers) != 0 {
		t.Errorf("模板应得到空的Headers: %v", cfg.Headers)
	}
	if !strings.Contains(Template(), "headers:") {
		t.Error("模板内容错误")
	}
}

func TestLoadExistingConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "headers.yaml")
	content := `headers:
  User-Agent: "Test Bot/1.0"
  X-Custom: "test value"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewHeaderConfigLoader(configPath).LoadConfig()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	// viper的键不区分大小写
	if cfg.Headers["user-agent"] != "Test Bot/1.0" {
		t.Errorf("User-Agent错误: %v", cfg.Headers)
	}
	if cfg.Headers["x-custom"] != "test value" {
		t.Errorf("X-Custom错误: %v", cfg.Headers)
	}
}

func TestLoadEmptyConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	_ = os.WriteFile(configPath, []byte(""), 0644)

	cfg, err := NewHeaderConfigLoader(configPath).LoadConfig()
	if err != nil {
		t.Fatalf("空配置文件应该可以加载: %v", err)
	}
	if cfg.Headers == nil {
		t.Error("空配置应该初始化Headers为空map")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(configPath, []byte("headers: [unclosed"), 0644)

	_, err := NewHeaderConfigLoader(configPath).LoadConfig()
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("期望ConfigError, 得到 %v", err)
	}
	if cfgErr.FilePath != configPath {
		t.Errorf("错误路径: %s", cfgErr.FilePath)
	}
}

func TestLoadOversizedConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "huge.yaml")
	_ = os.WriteFile(configPath, make([]byte, MaxConfigFileSize+1), 0644)

	_, err := NewHeaderConfigLoader(configPath).LoadConfig()
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("期望ConfigError, 得到 %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	if NewHeaderConfigLoader("").Path() != DefaultConfigFile {
		t.Error("默认路径错误")
	}
}
