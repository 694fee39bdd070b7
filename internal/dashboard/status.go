package dashboard

import "time"

// MarketStatus 表示印度市场当前开闭状态（NSE 交易时段 09:15–15:30 IST，周一至周五）。
type MarketStatus string

const (
	MarketOpen   MarketStatus = "OPEN"
	MarketClosed MarketStatus = "CLOSED"
)

// StatusAt 返回 now 时刻的市场状态。
func StatusAt(now time.Time, loc *time.Location) MarketStatus {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return MarketClosed
	}
	minutes := local.Hour()*60 + local.Minute()
	const open = 9*60 + 15
	const close = 15*60 + 30
	if minutes >= open && minutes <= close {
		return MarketOpen
	}
	return MarketClosed
}
