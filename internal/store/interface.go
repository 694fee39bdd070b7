package store

import (
	"context"
	"errors"

	"niftycast/internal/fusion"
	"niftycast/internal/model"
)

// ErrUnknownDate 表示回填结果时该交易日不存在任何记录，属于调用方错误。
var ErrUnknownDate = errors.New("no history record for date")

// HistoryRecord 是唯一的持久化实体：一条已落库的共识预测，
// 外加之后运行回填的实际结果。按 trading_date 唯一。
type HistoryRecord struct {
	fusion.Consensus
	RealizedClose     *float64        `json:"realized_close,omitempty"`
	RealizedDirection model.Direction `json:"realized_direction,omitempty"`
}

// HistoryStore 是预测历史的只追加存储。
// Upsert 对同一 trading_date 整条替换（记录粒度的 last-writer-wins），
// 并发写同一日期由底层存储串行化，读者永远看不到半写状态。
type HistoryStore interface {
	Upsert(ctx context.Context, rec HistoryRecord) error

	// BackfillOutcome 只更新指定日期的 realized 字段，预测字段不动。
	// 日期不存在时返回 ErrUnknownDate。
	BackfillOutcome(ctx context.Context, tradingDate string, realizedClose float64, realizedDirection model.Direction) error

	// ReadRange 按 trading_date 升序返回 [from, to] 闭区间内的记录；空区间合法。
	ReadRange(ctx context.Context, fromDate, toDate string) ([]HistoryRecord, error)

	// Latest 返回 trading_date 最大的记录；无记录时返回 (nil, nil)。
	Latest(ctx context.Context) (*HistoryRecord, error)

	Close() error
}
