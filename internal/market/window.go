package market

import (
	"fmt"
	"sort"
	"time"
)

// FeatureWindow 是模型输入的特征窗口：固定长度、按日期升序的近期交易日序列。
// 构造后不可变，每次流水线运行都从数据源重新生成。
type FeatureWindow struct {
	days []Day
}

// NewFeatureWindow 复制并校验输入序列，按日期升序排列。
func NewFeatureWindow(days []Day) (*FeatureWindow, error) {
	if len(days) == 0 {
		return nil, fmt.Errorf("feature window 不能为空")
	}
	copied := make([]Day, len(days))
	copy(copied, days)
	sort.Slice(copied, func(i, j int) bool { return copied[i].Date.Before(copied[j].Date) })
	for i := 1; i < len(copied); i++ {
		if copied[i].DateKey() == copied[i-1].DateKey() {
			return nil, fmt.Errorf("feature window 存在重复交易日: %s", copied[i].DateKey())
		}
	}
	return &FeatureWindow{days: copied}, nil
}

func (w *FeatureWindow) Len() int {
	if w == nil {
		return 0
	}
	return len(w.days)
}

// Days 返回窗口内容的副本。
func (w *FeatureWindow) Days() []Day {
	if w == nil {
		return nil
	}
	out := make([]Day, len(w.days))
	copy(out, w.days)
	return out
}

// Closes 返回按日期升序的收盘价序列。
func (w *FeatureWindow) Closes() []float64 {
	if w == nil {
		return nil
	}
	out := make([]float64, len(w.days))
	for i, d := range w.days {
		out[i] = d.Close
	}
	return out
}

// LastClose 返回窗口最后一个交易日的收盘价（即当前价格基准）。
func (w *FeatureWindow) LastClose() float64 {
	if w == nil || len(w.days) == 0 {
		return 0
	}
	return w.days[len(w.days)-1].Close
}

// Tail 返回包含最近 n 个交易日的子窗口。n 超过窗口长度时报错，调用方不允许隐式补齐。
func (w *FeatureWindow) Tail(n int) (*FeatureWindow, error) {
	if n <= 0 {
		return nil, fmt.Errorf("tail 长度必须为正, got %d", n)
	}
	if w == nil || n > len(w.days) {
		return nil, fmt.Errorf("tail 长度 %d 超过窗口长度 %d", n, w.Len())
	}
	if n == len(w.days) {
		return w, nil
	}
	return &FeatureWindow{days: append([]Day(nil), w.days[len(w.days)-n:]...)}, nil
}

// EndDate 返回窗口最后一个交易日。
func (w *FeatureWindow) EndDate() time.Time {
	if w == nil || len(w.days) == 0 {
		return time.Time{}
	}
	return w.days[len(w.days)-1].Date
}

// NextTradingDay 返回 after 之后的下一个交易日（跳过周末；节假日由数据源自然缺失，
// 预测日期只需要对 upsert 键稳定即可）。
func NextTradingDay(after time.Time) time.Time {
	next := after.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
