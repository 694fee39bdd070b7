package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dayOn(date string, close float64) Day {
	t, _ := time.Parse(DateLayout, date)
	return Day{Date: t, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

func TestNewFeatureWindow(t *testing.T) {
	t.Run("乱序输入按日期升序排列", func(t *testing.T) {
		w, err := NewFeatureWindow([]Day{
			dayOn("2026-08-28", 3),
			dayOn("2026-08-26", 1),
			dayOn("2026-08-27", 2),
		})
		assert.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3}, w.Closes())
		assert.Equal(t, "2026-08-28", w.EndDate().Format(DateLayout))
		assert.Equal(t, 3.0, w.LastClose())
	})

	t.Run("空输入报错", func(t *testing.T) {
		_, err := NewFeatureWindow(nil)
		assert.Error(t, err)
	})

	t.Run("重复交易日报错", func(t *testing.T) {
		_, err := NewFeatureWindow([]Day{dayOn("2026-08-26", 1), dayOn("2026-08-26", 2)})
		assert.Error(t, err)
	})

	t.Run("构造后修改输入不影响窗口", func(t *testing.T) {
		input := []Day{dayOn("2026-08-26", 1), dayOn("2026-08-27", 2)}
		w, err := NewFeatureWindow(input)
		assert.NoError(t, err)
		input[0].Close = 999
		assert.Equal(t, []float64{1, 2}, w.Closes())
	})
}

func TestFeatureWindow_Tail(t *testing.T) {
	w, err := NewFeatureWindow([]Day{
		dayOn("2026-08-24", 1), dayOn("2026-08-25", 2),
		dayOn("2026-08-26", 3), dayOn("2026-08-27", 4),
	})
	assert.NoError(t, err)

	t.Run("截取最近 n 日", func(t *testing.T) {
		sub, err := w.Tail(2)
		assert.NoError(t, err)
		assert.Equal(t, []float64{3, 4}, sub.Closes())
	})

	t.Run("n 等于窗口长度返回自身内容", func(t *testing.T) {
		sub, err := w.Tail(4)
		assert.NoError(t, err)
		assert.Equal(t, w.Closes(), sub.Closes())
	})

	t.Run("n 超长不补齐直接报错", func(t *testing.T) {
		_, err := w.Tail(5)
		assert.Error(t, err)
	})

	t.Run("n 非正报错", func(t *testing.T) {
		_, err := w.Tail(0)
		assert.Error(t, err)
	})
}

func TestNextTradingDay(t *testing.T) {
	cases := []struct {
		name  string
		after string
		want  string
	}{
		{"周四 到 周五", "2026-08-27", "2026-08-28"},
		{"周五 跳过周末到周一", "2026-08-28", "2026-08-31"},
		{"周六 到 周一", "2026-08-29", "2026-08-31"},
		{"周日 到 周一", "2026-08-30", "2026-08-31"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			after, _ := time.Parse(DateLayout, tc.after)
			assert.Equal(t, tc.want, NextTradingDay(after).Format(DateLayout))
		})
	}
}
