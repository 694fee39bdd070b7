package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"niftycast/internal/fusion"
	"niftycast/internal/market"
	"niftycast/internal/model"
	"niftycast/internal/store"
)

type fakeSource struct {
	mu      sync.Mutex
	window  *market.FeatureWindow
	err     error
	delay   time.Duration
	fetches int
}

func (f *fakeSource) FetchWindow(ctx context.Context, symbol string, days int) (*market.FeatureWindow, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.window, nil
}

func (f *fakeSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeSource) Close() error              { return nil }

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type stubPredictor struct {
	family   model.Family
	lookback int
	close    float64
	errEst   float64
	err      error
}

func (p *stubPredictor) Family() model.Family { return p.family }
func (p *stubPredictor) Lookback() int        { return p.lookback }

func (p *stubPredictor) Predict(ctx context.Context, w *market.FeatureWindow) (model.Prediction, error) {
	if p.err != nil {
		return model.Prediction{}, p.err
	}
	return model.Prediction{
		Model:          p.family,
		PredictedClose: p.close,
		Direction:      model.DirectionOf(p.close, w.LastClose()),
		ErrorEstimate:  p.errEst,
	}, nil
}

type memHistory struct {
	mu      sync.Mutex
	records map[string]store.HistoryRecord
	upserts int
}

func newMemHistory() *memHistory {
	return &memHistory{records: make(map[string]store.HistoryRecord)}
}

func (m *memHistory) Upsert(_ context.Context, rec store.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TradingDate] = rec
	m.upserts++
	return nil
}

func (m *memHistory) BackfillOutcome(_ context.Context, date string, close float64, dir model.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[date]
	if !ok {
		return store.ErrUnknownDate
	}
	rec.RealizedClose = &close
	rec.RealizedDirection = dir
	m.records[date] = rec
	return nil
}

func (m *memHistory) ReadRange(_ context.Context, from, to string) ([]store.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dates := make([]string, 0, len(m.records))
	for d := range m.records {
		if (from == "" || d >= from) && (to == "" || d <= to) {
			dates = append(dates, d)
		}
	}
	for i := 0; i < len(dates); i++ {
		for j := i + 1; j < len(dates); j++ {
			if dates[j] < dates[i] {
				dates[i], dates[j] = dates[j], dates[i]
			}
		}
	}
	out := make([]store.HistoryRecord, 0, len(dates))
	for _, d := range dates {
		out = append(out, m.records[d])
	}
	return out, nil
}

func (m *memHistory) Latest(_ context.Context) (*store.HistoryRecord, error) {
	records, _ := m.ReadRange(context.Background(), "", "")
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[len(records)-1]
	return &rec, nil
}

func (m *memHistory) Close() error { return nil }

func (m *memHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memHistory) get(date string) (store.HistoryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[date]
	return rec, ok
}

type memEmitter struct {
	mu      sync.Mutex
	emits   int
	current fusion.Consensus
	history []store.HistoryRecord
	err     error
}

func (e *memEmitter) Emit(_ context.Context, current fusion.Consensus, history []store.HistoryRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.emits++
	e.current = current
	e.history = append([]store.HistoryRecord(nil), history...)
	return nil
}

func testWindow(t *testing.T) *market.FeatureWindow {
	t.Helper()
	mk := func(date string, close float64) market.Day {
		d, _ := time.Parse(market.DateLayout, date)
		return market.Day{Date: d, Open: close, High: close, Low: close, Close: close, Volume: 100}
	}
	// 周三到周五：下一交易日应跳到下周一。
	w, err := market.NewFeatureWindow([]market.Day{
		mk("2026-08-26", 17900),
		mk("2026-08-27", 17950),
		mk("2026-08-28", 18000),
	})
	assert.NoError(t, err)
	return w
}

func testPredictors() []model.Predictor {
	return []model.Predictor{
		&stubPredictor{family: model.FamilyRNN, lookback: 3, close: 18200, errEst: 0.01},
		&stubPredictor{family: model.FamilyLSTM, lookback: 3, close: 18100, errEst: 0.002},
		&stubPredictor{family: model.FamilyCNN, lookback: 3, close: 17950, errEst: 0.02},
	}
}

func newTestOrchestrator(t *testing.T, source market.Source, predictors []model.Predictor,
	history store.HistoryStore, emitter Emitter) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Options{
		Symbol:           "^NSEI",
		FetchTimeout:     time.Second,
		InferenceTimeout: time.Second,
		HistoryDays:      100,
	}, source, predictors, fusion.NewFuser(fusion.DefaultThresholds), history, nil, emitter)
	assert.NoError(t, err)
	return o
}

func TestOrchestrator_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("完整成功路径", func(t *testing.T) {
		source := &fakeSource{window: testWindow(t)}
		history := newMemHistory()
		emitter := &memEmitter{}
		o := newTestOrchestrator(t, source, testPredictors(), history, emitter)

		res, err := o.RunOnce(ctx)
		assert.NoError(t, err)
		assert.Equal(t, StageDone, res.Stage)
		assert.Equal(t, "2026-08-31", res.TradingDate)
		assert.NotEmpty(t, res.RunID)

		rec, ok := history.get("2026-08-31")
		assert.True(t, ok)
		assert.Equal(t, res.Consensus.FusedClose, rec.FusedClose)
		assert.Len(t, rec.PerModel, 3)
		assert.Equal(t, model.FamilyRNN, rec.PerModel[0].Model)

		assert.Equal(t, 1, emitter.emits)
		assert.Equal(t, "2026-08-31", emitter.current.TradingDate)
		assert.Len(t, emitter.history, 1)
	})

	t.Run("拉取失败不碰历史库", func(t *testing.T) {
		source := &fakeSource{err: market.ErrDataUnavailable}
		history := newMemHistory()
		emitter := &memEmitter{}
		o := newTestOrchestrator(t, source, testPredictors(), history, emitter)

		res, err := o.RunOnce(ctx)
		assert.ErrorIs(t, err, market.ErrDataUnavailable)
		assert.Equal(t, StageFetching, res.Stage)
		assert.Equal(t, 0, history.count())
		assert.Equal(t, 0, emitter.emits)
	})

	t.Run("单模型失败即集成不完整", func(t *testing.T) {
		predictors := testPredictors()
		predictors[1] = &stubPredictor{family: model.FamilyLSTM, lookback: 3, err: model.ErrInference}
		history := newMemHistory()
		emitter := &memEmitter{}
		o := newTestOrchestrator(t, &fakeSource{window: testWindow(t)}, predictors, history, emitter)

		res, err := o.RunOnce(ctx)
		assert.ErrorIs(t, err, fusion.ErrIncompleteEnsemble)
		assert.Equal(t, StagePredicting, res.Stage)
		assert.Equal(t, 0, history.count())
		assert.Equal(t, 0, emitter.emits)
	})

	t.Run("发布失败时记录已落库", func(t *testing.T) {
		history := newMemHistory()
		emitter := &memEmitter{err: errors.New("disk full")}
		o := newTestOrchestrator(t, &fakeSource{window: testWindow(t)}, testPredictors(), history, emitter)

		res, err := o.RunOnce(ctx)
		assert.Error(t, err)
		assert.Equal(t, StageEmitting, res.Stage)
		assert.Equal(t, 1, history.count())
	})

	t.Run("并发触发合并为一次运行", func(t *testing.T) {
		source := &fakeSource{window: testWindow(t), delay: 50 * time.Millisecond}
		history := newMemHistory()
		emitter := &memEmitter{}
		o := newTestOrchestrator(t, source, testPredictors(), history, emitter)

		var wg sync.WaitGroup
		results := make([]*Result, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := o.RunOnce(ctx)
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, source.fetchCount())
		assert.Equal(t, 1, history.upserts)
		for _, res := range results[1:] {
			assert.Equal(t, results[0].RunID, res.RunID)
		}
	})

	t.Run("回填窗口末日的实际收盘", func(t *testing.T) {
		history := newMemHistory()
		// 此前对 2026-08-28 的预测已落库。
		assert.NoError(t, history.Upsert(ctx, store.HistoryRecord{
			Consensus: fusion.Consensus{TradingDate: "2026-08-28", FusedClose: 17980, CurrentPrice: 17950},
		}))
		emitter := &memEmitter{}
		o := newTestOrchestrator(t, &fakeSource{window: testWindow(t)}, testPredictors(), history, emitter)

		_, err := o.RunOnce(ctx)
		assert.NoError(t, err)

		rec, ok := history.get("2026-08-28")
		assert.True(t, ok)
		if assert.NotNil(t, rec.RealizedClose) {
			assert.Equal(t, 18000.0, *rec.RealizedClose)
		}
		assert.Equal(t, model.DirectionUp, rec.RealizedDirection)
	})

	t.Run("发布历史按 HistoryDays 截尾", func(t *testing.T) {
		history := newMemHistory()
		for day := 1; day <= 20; day++ {
			date := time.Date(2026, 7, day, 0, 0, 0, 0, time.UTC).Format(market.DateLayout)
			assert.NoError(t, history.Upsert(ctx, store.HistoryRecord{
				Consensus: fusion.Consensus{TradingDate: date, FusedClose: 18000},
			}))
		}
		emitter := &memEmitter{}
		o, err := NewOrchestrator(Options{
			Symbol:      "^NSEI",
			HistoryDays: 5,
		}, &fakeSource{window: testWindow(t)}, testPredictors(),
			fusion.NewFuser(fusion.DefaultThresholds), history, nil, emitter)
		assert.NoError(t, err)

		_, err = o.RunOnce(ctx)
		assert.NoError(t, err)
		assert.Len(t, emitter.history, 5)
		assert.Equal(t, "2026-08-31", emitter.history[4].TradingDate)
	})
}

func TestNewOrchestrator_Validation(t *testing.T) {
	fuser := fusion.NewFuser(fusion.DefaultThresholds)
	history := newMemHistory()
	emitter := &memEmitter{}

	t.Run("缺数据源拒绝", func(t *testing.T) {
		_, err := NewOrchestrator(Options{}, nil, testPredictors(), fuser, history, nil, emitter)
		assert.Error(t, err)
	})
	t.Run("适配器数量不对拒绝", func(t *testing.T) {
		_, err := NewOrchestrator(Options{}, &fakeSource{}, testPredictors()[:2], fuser, history, nil, emitter)
		assert.Error(t, err)
	})
	t.Run("缺发布器拒绝", func(t *testing.T) {
		_, err := NewOrchestrator(Options{}, &fakeSource{}, testPredictors(), fuser, history, nil, nil)
		assert.Error(t, err)
	})
}

func TestClassifyCause(t *testing.T) {
	assert.Equal(t, "transient", string(classifyCause(market.ErrDataUnavailable)))
	assert.Equal(t, "transient", string(classifyCause(context.DeadlineExceeded)))
	assert.Equal(t, "durable", string(classifyCause(model.ErrModelUnavailable)))
	assert.Equal(t, "durable", string(classifyCause(fusion.ErrIncompleteEnsemble)))
	assert.Equal(t, "transient", string(classifyCause(errors.New("unknown"))))
}
