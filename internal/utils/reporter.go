package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/schollz/progressbar/v3"
)

const reportFileName = "flatten_report.json"

// Reporter 报告生成器
// 输出布局: <outputDir>/<domain>/pages/*.html 与 <outputDir>/<domain>/reports/flatten_report.json
type Reporter struct {
	outputDir string
	domain    string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string, domain string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		domain:    SafeDirName(domain),
	}
}

// BaseDir 当前域名的输出目录
func (r *Reporter) BaseDir() string {
	return filepath.Join(r.outputDir, r.domain)
}

// WriteDocument 保存合并后的文档,返回文件路径
func (r *Reporter) WriteDocument(name string, content string) (string, error) {
	pagesDir := filepath.Join(r.BaseDir(), "pages")
	if err := os.MkdirAll(pagesDir, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	path := filepath.Join(pagesDir, SafeDirName(name))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("写入文档失败: %w", err)
	}

	Debugf("保存文档: %s", path)
	return path, nil
}

// GenerateReport 保存翻页报告
func (r *Reporter) GenerateReport(report *models.FlattenReport) (string, error) {
	reportsDir := filepath.Join(r.BaseDir(), "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	report.OutputDir = r.BaseDir()
	data, err := report.ToJSON()
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}

	path := filepath.Join(reportsDir, reportFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// LoadReport 读取已生成的报告
func (r *Reporter) LoadReport() (*models.FlattenReport, error) {
	data, err := os.ReadFile(filepath.Join(r.BaseDir(), "reports", reportFileName))
	if err != nil {
		return nil, err
	}
	var report models.FlattenReport
	if err := report.FromJSON(data); err != nil {
		return nil, fmt.Errorf("解析报告失败: %w", err)
	}
	return &report, nil
}

// SafeDirName 替换文件名中不安全的字符
func SafeDirName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', '?', '*', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// NewProgressBar 创建进度条,max<0时显示为不定长度
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("页"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
