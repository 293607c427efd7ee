package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testLogConfig(dir, level string) LogConfig {
	return LogConfig{
		Level:      level,
		LogDir:     dir,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

func TestInitLogger(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Info("测试信息日志")
	Debug("测试调试日志")

	mainLogPath := filepath.Join(tempDir, mainLogName)
	content, err := os.ReadFile(mainLogPath)
	if err != nil {
		t.Fatalf("读取主日志失败: %v", err)
	}
	if !strings.Contains(string(content), "测试信息日志") {
		t.Errorf("主日志缺少信息日志: %s", content)
	}
	if !strings.Contains(string(content), "测试调试日志") {
		t.Errorf("debug级别下应记录调试日志")
	}
}

func TestErrorLogOnlyHasErrors(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("普通信息")
	Warnf("警告: %d", 1)
	Error(errors.New("磁盘已满"), "写入失败")
	Debugf("不应出现: %v", true)

	errContent, err := os.ReadFile(filepath.Join(tempDir, errorLogName))
	if err != nil {
		t.Fatalf("读取错误日志失败: %v", err)
	}
	if !strings.Contains(string(errContent), "写入失败") {
		t.Errorf("错误日志缺少错误记录: %s", errContent)
	}
	if strings.Contains(string(errContent), "普通信息") || strings.Contains(string(errContent), "警告") {
		t.Errorf("错误日志不应包含低级别记录: %s", errContent)
	}

	mainContent, err := os.ReadFile(filepath.Join(tempDir, mainLogName))
	if err != nil {
		t.Fatalf("读取主日志失败: %v", err)
	}
	if strings.Contains(string(mainContent), "不应出现") {
		t.Error("info级别下不应记录调试日志")
	}
}

func TestFilteredWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &FilteredWriter{Writer: &buf, MinLevel: zerolog.ErrorLevel}

	_, _ = w.WriteLevel(zerolog.WarnLevel, []byte("warn\n"))
	_, _ = w.WriteLevel(zerolog.ErrorLevel, []byte("error\n"))
	_, _ = w.Write([]byte("raw\n"))

	if buf.String() != "error\n" {
		t.Errorf("过滤结果错误: %q", buf.String())
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress || !config.Console {
		t.Error("默认应该启用压缩和控制台输出")
	}
}

func TestSessionLogger(t *testing.T) {
	var buf bytes.Buffer
	old := Logger
	Logger = zerolog.New(&buf)
	defer func() { Logger = old }()

	l := SessionLogger("s-1", "w-1")
	l.Info().Msg("翻页")

	out := buf.String()
	if !strings.Contains(out, `"session":"s-1"`) || !strings.Contains(out, `"window":"w-1"`) {
		t.Errorf("会话字段缺失: %s", out)
	}
}
