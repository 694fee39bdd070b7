package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CauseClass 区分失败原因类别，操作方据此选择重试策略：
// transient（数据源/超时，下个周期自愈）与 durable（模型工件，需人工修复）。
type CauseClass string

const (
	CauseNone      CauseClass = ""
	CauseTransient CauseClass = "transient"
	CauseDurable   CauseClass = "durable"
)

// RunRecord 是一次流水线运行的结果行。
type RunRecord struct {
	ID          string
	TradingDate string
	Status      string
	FailedStage string
	CauseClass  CauseClass
	Message     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store 管理 pipeline_runs 表，记录每次运行的终态供操作方排查。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("run log 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		trading_date TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_stage TEXT,
		cause_class TEXT,
		message TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);`)
	return err
}

// Insert 写入一次运行的终态。
func (s *Store) Insert(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("run log 已关闭")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, trading_date, status, failed_stage, cause_class, message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TradingDate, rec.Status, rec.FailedStage, string(rec.CauseClass),
		rec.Message, rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	return err
}

// ListRecent 按开始时间倒序返回最近 limit 条运行记录。
func (s *Store) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("run log 已关闭")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trading_date, status, failed_stage, cause_class, message, started_at, finished_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var cause, failedStage, message sql.NullString
		var startedAt, finishedAt int64
		if err := rows.Scan(&rec.ID, &rec.TradingDate, &rec.Status, &failedStage, &cause, &message, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		rec.FailedStage = failedStage.String
		rec.CauseClass = CauseClass(cause.String)
		rec.Message = message.String
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
