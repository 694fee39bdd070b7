package market

import "time"

// Day 表示指数一个交易日的 OHLCV 数据。
type Day struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DateKey 返回 YYYY-MM-DD 形式的日期键。
func (d Day) DateKey() string {
	return d.Date.Format(DateLayout)
}

const DateLayout = "2006-01-02"
