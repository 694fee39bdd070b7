package market

import (
	"context"
	"errors"
)

// ErrDataUnavailable 表示数据源在重试耗尽后仍不可用，属于可在下个调度周期恢复的瞬态错误。
var ErrDataUnavailable = errors.New("market data unavailable")

// SourceStats 记录数据源的健康状况，供启动摘要与运行日志使用。
type SourceStats struct {
	Requests  int
	Retries   int
	LastError string
}

// Source 提供构建特征窗口所需的行情数据。
type Source interface {
	// FetchWindow 拉取最近 days 个已收盘交易日，按日期升序返回。
	// 拉取失败（重试耗尽后）返回包装了 ErrDataUnavailable 的错误。
	FetchWindow(ctx context.Context, symbol string, days int) (*FeatureWindow, error)

	Stats() SourceStats

	Close() error
}
