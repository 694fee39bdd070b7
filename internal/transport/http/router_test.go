package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"niftycast/internal/fusion"
	"niftycast/internal/model"
	"niftycast/internal/pipeline"
	"niftycast/internal/store"
)

type stubHistory struct {
	mu      sync.Mutex
	records []store.HistoryRecord
	err     error
}

func (s *stubHistory) Upsert(context.Context, store.HistoryRecord) error { return nil }

func (s *stubHistory) BackfillOutcome(context.Context, string, float64, model.Direction) error {
	return nil
}

func (s *stubHistory) ReadRange(_ context.Context, from, to string) ([]store.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]store.HistoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if (from == "" || rec.TradingDate >= from) && (to == "" || rec.TradingDate <= to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubHistory) Latest(context.Context) (*store.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.records) == 0 {
		return nil, nil
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

func (s *stubHistory) Close() error { return nil }

type stubTrigger struct {
	result *pipeline.Result
	err    error
	calls  int
}

func (s *stubTrigger) RunOnce(context.Context) (*pipeline.Result, error) {
	s.calls++
	return s.result, s.err
}

func historyRecord(date string) store.HistoryRecord {
	return store.HistoryRecord{Consensus: fusion.Consensus{
		TradingDate:    date,
		FusedClose:     18100,
		Recommendation: fusion.RecommendHold,
		CurrentPrice:   18000,
		GeneratedAt:    time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}}
}

func newTestEngine(r *Router) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	r.Register(engine.Group("/api"))
	return engine
}

func TestRouter_Latest(t *testing.T) {
	t.Run("有记录返回最新", func(t *testing.T) {
		history := &stubHistory{records: []store.HistoryRecord{historyRecord("2026-09-01"), historyRecord("2026-09-02")}}
		engine := newTestEngine(NewRouter(history, nil, nil))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/latest", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var rec store.HistoryRecord
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.Equal(t, "2026-09-02", rec.TradingDate)
	})

	t.Run("空库 404", func(t *testing.T) {
		engine := newTestEngine(NewRouter(&stubHistory{}, nil, nil))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/latest", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("存储错误 500", func(t *testing.T) {
		engine := newTestEngine(NewRouter(&stubHistory{err: errors.New("db broken")}, nil, nil))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/latest", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRouter_History(t *testing.T) {
	history := &stubHistory{records: []store.HistoryRecord{
		historyRecord("2026-09-01"), historyRecord("2026-09-02"), historyRecord("2026-09-03"),
	}}
	engine := newTestEngine(NewRouter(history, nil, nil))

	t.Run("全量", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/history", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count   int                   `json:"count"`
			Records []store.HistoryRecord `json:"records"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Count)
	})

	t.Run("区间过滤", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/history?from=2026-09-02&to=2026-09-03", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Count int `json:"count"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("空区间返回空数组", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions/history?from=2027-01-01", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"records":[]`)
	})
}

func TestRouter_Run(t *testing.T) {
	t.Run("成功触发返回摘要", func(t *testing.T) {
		trigger := &stubTrigger{result: &pipeline.Result{
			RunID:       "run-1",
			TradingDate: "2026-09-01",
			Stage:       pipeline.StageDone,
			Consensus: &fusion.Consensus{
				FusedClose:     18100,
				Recommendation: fusion.RecommendHold,
			},
		}}
		engine := newTestEngine(NewRouter(&stubHistory{}, nil, trigger))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, trigger.calls)
		assert.Contains(t, w.Body.String(), "run-1")
		assert.Contains(t, w.Body.String(), "HOLD")
	})

	t.Run("运行失败返回失败阶段", func(t *testing.T) {
		trigger := &stubTrigger{
			result: &pipeline.Result{RunID: "run-2", Stage: pipeline.StageFetching},
			err:    errors.New("market data unavailable"),
		}
		engine := newTestEngine(NewRouter(&stubHistory{}, nil, trigger))

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run", nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "FETCHING")
	})

	t.Run("无触发器不挂载路由", func(t *testing.T) {
		engine := newTestEngine(NewRouter(&stubHistory{}, nil, nil))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/run", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_Runs(t *testing.T) {
	t.Run("运行日志未启用 404", func(t *testing.T) {
		engine := newTestEngine(NewRouter(&stubHistory{}, nil, nil))
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
