package model

import (
	"time"

	"gorm.io/datatypes"
)

// HistoryRecordModel 对应 history_records 表：每个交易日至多一行。
type HistoryRecordModel struct {
	TradingDate       string         `gorm:"column:trading_date;primaryKey"`
	PerModelJSON      datatypes.JSON `gorm:"column:per_model_json;not null"`
	FusedClose        float64        `gorm:"column:fused_close;not null"`
	FusedDirection    string         `gorm:"column:fused_direction;not null"`
	Recommendation    string         `gorm:"column:recommendation;not null"`
	CurrentPrice      float64        `gorm:"column:current_price;not null"`
	ChangePct         float64        `gorm:"column:change_pct;not null"`
	GeneratedAt       time.Time      `gorm:"column:generated_at;not null"`
	RealizedClose     *float64       `gorm:"column:realized_close"`
	RealizedDirection *string        `gorm:"column:realized_direction"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (HistoryRecordModel) TableName() string { return "history_records" }
