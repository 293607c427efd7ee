package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/Repagination/internal/locator"
	"github.com/RecoveryAshes/Repagination/internal/models"
	"github.com/RecoveryAshes/Repagination/internal/utils"
)

var (
	errNoSelector       = errors.New("需要 --anchor、--text 或 --query 之一")
	errConflictSelector = errors.New("--query 不能与 --anchor 或 --text 同时使用")
	errConflictSeeds    = errors.New("--url 与 --url-file 不能同时使用")
)

// ValidateFlags 验证命令行标志
func ValidateFlags(targetURL, urlFile, anchorXPath, anchorText, query string) error {
	if targetURL != "" && urlFile != "" {
		return errConflictSeeds
	}
	if targetURL != "" {
		if err := models.ValidateURL(targetURL); err != nil {
			return fmt.Errorf("无效的起始页URL: %w", err)
		}
	}

	switch {
	case query != "" && (anchorXPath != "" || anchorText != ""):
		return errConflictSelector
	case query == "" && anchorXPath == "" && anchorText == "":
		return errNoSelector
	}

	// XPath语法错误尽早报告
	for _, q := range []string{anchorXPath, query} {
		if q == "" {
			continue
		}
		if _, err := locator.FromQuery(q); err != nil {
			return err
		}
	}
	return nil
}

// printSummary 打印一次翻页的统计
func printSummary(totalPages int, duration float64, results []models.SessionResult, outputFiles []string) {
	redactor := utils.NewHeaderRedactor()

	fmt.Println("\n==================================================")
	fmt.Println("📊 翻页统计")
	fmt.Println("==================================================")
	for _, r := range results {
		status := "✅"
		if !r.Clean {
			status = "❌"
		}
		fmt.Printf("%s %s: %d 页 (%s)\n", status, redactor.RedactURL(r.Location), r.Pages, r.Reason)
	}
	fmt.Printf("📄 合并页数: %d\n", totalPages)
	for _, f := range outputFiles {
		fmt.Printf("💾 %s\n", f)
	}
	fmt.Printf("⏱️  总耗时: %s\n", time.Duration(duration*float64(time.Second)).Round(time.Millisecond))
	fmt.Println("==================================================")
}
