package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"niftycast/internal/market"
)

func chartBody(timestamps []int64, closes []string) string {
	quotes := func(vals []string) string { return "[" + strings.Join(vals, ",") + "]" }
	ts := make([]string, len(timestamps))
	for i, t := range timestamps {
		ts[i] = fmt.Sprintf("%d", t)
	}
	return fmt.Sprintf(`{
  "chart": {
    "result": [{
      "timestamp": [%s],
      "indicators": {"quote": [{
        "open": %s, "high": %s, "low": %s, "close": %s, "volume": %s
      }]}
    }],
    "error": null
  }
}`, strings.Join(ts, ","), quotes(closes), quotes(closes), quotes(closes), quotes(closes), quotes(closes))
}

func tradingTimestamps(n int) []int64 {
	// 工作日序列，避开周末。
	out := make([]int64, 0, n)
	day := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	for len(out) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, day.Unix())
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func noSleep(p market.RetryPolicy) market.RetryPolicy {
	return p.WithSleepFn(func(context.Context, time.Duration) error { return nil })
}

func TestSource_FetchWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("解析日线并截取窗口", func(t *testing.T) {
		ts := tradingTimestamps(5)
		closes := []string{"17900", "17950", "18000", "18050", "18100"}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/v8/finance/chart/")
			assert.Equal(t, "1d", r.URL.Query().Get("interval"))
			fmt.Fprint(w, chartBody(ts, closes))
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL})
		window, err := src.FetchWindow(ctx, "^NSEI", 3)
		assert.NoError(t, err)
		assert.Equal(t, 3, window.Len())
		assert.Equal(t, []float64{18000, 18050, 18100}, window.Closes())
		assert.Equal(t, 18100.0, window.LastClose())
	})

	t.Run("null 收盘价的停牌日被跳过", func(t *testing.T) {
		ts := tradingTimestamps(4)
		closes := []string{"17900", "null", "18000", "18100"}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chartBody(ts, closes))
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL})
		window, err := src.FetchWindow(ctx, "^NSEI", 3)
		assert.NoError(t, err)
		assert.Equal(t, []float64{17900, 18000, 18100}, window.Closes())
	})

	t.Run("历史不足报 ErrDataUnavailable", func(t *testing.T) {
		ts := tradingTimestamps(2)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chartBody(ts, []string{"18000", "18100"}))
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL})
		_, err := src.FetchWindow(ctx, "^NSEI", 10)
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
	})

	t.Run("上游 5xx 重试后报 ErrDataUnavailable", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL, RetryAttempts: 3}).
			WithRetryPolicy(noSleep(market.NewRetryPolicy(3, time.Millisecond, time.Millisecond)))
		_, err := src.FetchWindow(ctx, "^NSEI", 3)
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
		assert.Equal(t, 3, hits)
	})

	t.Run("api error 字段透出", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL}).
			WithRetryPolicy(noSleep(market.NewRetryPolicy(1, time.Millisecond, time.Millisecond)))
		_, err := src.FetchWindow(ctx, "^NSEI", 3)
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
		assert.Contains(t, err.Error(), "No data found")
	})

	t.Run("连续失败触发熔断", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		src := New(Config{BaseURL: srv.URL, BreakerThreshold: 2}).
			WithRetryPolicy(noSleep(market.NewRetryPolicy(1, time.Millisecond, time.Millisecond)))
		for i := 0; i < 2; i++ {
			_, err := src.FetchWindow(ctx, "^NSEI", 3)
			assert.ErrorIs(t, err, market.ErrDataUnavailable)
		}
		// 熔断打开后不再发请求。
		_, err := src.FetchWindow(ctx, "^NSEI", 3)
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
		assert.Contains(t, err.Error(), "熔断")
	})

	t.Run("空 symbol 拒绝", func(t *testing.T) {
		src := New(Config{})
		_, err := src.FetchWindow(ctx, "  ", 3)
		assert.Error(t, err)
	})
}

func TestParseChart(t *testing.T) {
	t.Run("空 result 报错", func(t *testing.T) {
		_, err := parseChart([]byte(`{"chart":{"result":[]}}`))
		assert.Error(t, err)
	})
	t.Run("数组长度不齐报错", func(t *testing.T) {
		body := `{"chart":{"result":[{"timestamp":[1,2,3],"indicators":{"quote":[{"open":[1],"high":[1],"low":[1],"close":[1],"volume":[1]}]}}]}}`
		_, err := parseChart([]byte(body))
		assert.Error(t, err)
	})
}

func TestRangeForDays(t *testing.T) {
	assert.Equal(t, "1mo", rangeForDays(10))
	assert.Equal(t, "3mo", rangeForDays(60))
	assert.Equal(t, "6mo", rangeForDays(100))
	assert.Equal(t, "1y", rangeForDays(200))
	assert.Equal(t, "2y", rangeForDays(400))
}
