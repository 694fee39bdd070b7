package app

import (
	"fmt"
	"strings"
)

type StartupSummary struct {
	Symbol    string
	Families  []string
	Lookback  int
	RunAt     string
	Timezone  string
	OutputDir string
	HTTPAddr  string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[行情 (MARKET)]")
	fmt.Printf("  标的: %s\n", s.Symbol)
	fmt.Println()

	fmt.Println("[模型集成 (ENSEMBLE)]")
	fmt.Printf("  模型: %s\n", formatList(s.Families))
	fmt.Printf("  窗口长度: %d\n", s.Lookback)
	fmt.Println()

	fmt.Println("[调度与输出 (SCHEDULE & OUTPUT)]")
	fmt.Printf("  每日运行: %s (%s)\n", s.RunAt, s.Timezone)
	fmt.Printf("  产物目录: %s\n", s.OutputDir)
	fmt.Printf("  HTTP 监听: %s\n", s.HTTPAddr)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
