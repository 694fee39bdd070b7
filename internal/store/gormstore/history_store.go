package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"niftycast/internal/fusion"
	fcmodel "niftycast/internal/model"
	"niftycast/internal/store"
	storemodel "niftycast/internal/store/model"
)

type historyRecordModel = storemodel.HistoryRecordModel

// HistoryStore 基于 Gorm + SQLite 实现 store.HistoryStore。
// WAL + busy_timeout 让并发运行对同一交易日的 upsert 在存储层串行化，
// OnConflict 整行替换保证 last-writer-wins 的记录粒度语义。
type HistoryStore struct {
	db *gorm.DB
}

func NewHistoryStore(path string) (*HistoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&historyRecordModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 给 HTTP 读留一点并行度，同时控制锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &HistoryStore{db: db}, nil
}

var _ store.HistoryStore = (*HistoryStore)(nil)

func (s *HistoryStore) Upsert(ctx context.Context, rec store.HistoryRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store 未初始化")
	}
	if strings.TrimSpace(rec.TradingDate) == "" {
		return fmt.Errorf("trading_date 必填")
	}
	m, err := newHistoryRecordModel(rec)
	if err != nil {
		return err
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	// 同一交易日整行替换：后写者完全决定存储值，绝不按字段合并。
	updates := clause.AssignmentColumns([]string{
		"per_model_json", "fused_close", "fused_direction", "recommendation",
		"current_price", "change_pct", "generated_at",
		"realized_close", "realized_direction", "updated_at",
	})
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trading_date"}},
			DoUpdates: updates,
		}).
		Create(&m).Error
}

func (s *HistoryStore) BackfillOutcome(ctx context.Context, tradingDate string, realizedClose float64, realizedDirection fcmodel.Direction) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store 未初始化")
	}
	tradingDate = strings.TrimSpace(tradingDate)
	if tradingDate == "" {
		return fmt.Errorf("trading_date 必填")
	}
	dir := string(realizedDirection)
	res := s.db.WithContext(ctx).
		Model(&historyRecordModel{}).
		Where("trading_date = ?", tradingDate).
		Updates(map[string]interface{}{
			"realized_close":     realizedClose,
			"realized_direction": dir,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("回填 %s 失败: %w", tradingDate, store.ErrUnknownDate)
	}
	return nil
}

func (s *HistoryStore) ReadRange(ctx context.Context, fromDate, toDate string) ([]store.HistoryRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store 未初始化")
	}
	query := s.db.WithContext(ctx).Model(&historyRecordModel{})
	if strings.TrimSpace(fromDate) != "" {
		query = query.Where("trading_date >= ?", fromDate)
	}
	if strings.TrimSpace(toDate) != "" {
		query = query.Where("trading_date <= ?", toDate)
	}
	var models []historyRecordModel
	if err := query.Order("trading_date ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]store.HistoryRecord, 0, len(models))
	for _, m := range models {
		rec, err := historyRecordFromModel(m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *HistoryStore) Latest(ctx context.Context) (*store.HistoryRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store 未初始化")
	}
	var m historyRecordModel
	err := s.db.WithContext(ctx).
		Order("trading_date DESC").
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := historyRecordFromModel(m)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newHistoryRecordModel(rec store.HistoryRecord) (historyRecordModel, error) {
	perModel, err := json.Marshal(rec.PerModel)
	if err != nil {
		return historyRecordModel{}, fmt.Errorf("序列化 per_model 失败: %w", err)
	}
	m := historyRecordModel{
		TradingDate:    rec.TradingDate,
		PerModelJSON:   perModel,
		FusedClose:     rec.FusedClose,
		FusedDirection: string(rec.FusedDirection),
		Recommendation: string(rec.Recommendation),
		CurrentPrice:   rec.CurrentPrice,
		ChangePct:      rec.ChangePct,
		GeneratedAt:    rec.GeneratedAt,
		RealizedClose:  rec.RealizedClose,
	}
	if rec.RealizedDirection != "" {
		dir := string(rec.RealizedDirection)
		m.RealizedDirection = &dir
	}
	return m, nil
}

func historyRecordFromModel(m historyRecordModel) (store.HistoryRecord, error) {
	var perModel []fcmodel.Prediction
	if len(m.PerModelJSON) > 0 {
		if err := json.Unmarshal(m.PerModelJSON, &perModel); err != nil {
			return store.HistoryRecord{}, fmt.Errorf("解析 per_model 失败 (%s): %w", m.TradingDate, err)
		}
	}
	rec := store.HistoryRecord{
		Consensus: fusion.Consensus{
			TradingDate:    m.TradingDate,
			PerModel:       perModel,
			FusedClose:     m.FusedClose,
			FusedDirection: fcmodel.Direction(m.FusedDirection),
			Recommendation: fusion.Recommendation(m.Recommendation),
			CurrentPrice:   m.CurrentPrice,
			ChangePct:      m.ChangePct,
			GeneratedAt:    m.GeneratedAt,
		},
		RealizedClose: m.RealizedClose,
	}
	if m.RealizedDirection != nil {
		rec.RealizedDirection = fcmodel.Direction(*m.RealizedDirection)
	}
	return rec, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
