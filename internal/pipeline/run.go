package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"niftycast/internal/fusion"
	"niftycast/internal/logger"
	"niftycast/internal/market"
	"niftycast/internal/model"
	"niftycast/internal/store"
	"niftycast/internal/store/runlog"
)

// Stage 是单次运行的状态机阶段。
type Stage string

const (
	StageFetching   Stage = "FETCHING"
	StagePredicting Stage = "PREDICTING"
	StageFusing     Stage = "FUSING"
	StagePersisting Stage = "PERSISTING"
	StageEmitting   Stage = "EMITTING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// Emitter 把成功运行的结果序列化为发布产物（JSON + 静态页面）。
type Emitter interface {
	Emit(ctx context.Context, current fusion.Consensus, history []store.HistoryRecord) error
}

// Options 控制一次运行的参数。
type Options struct {
	Symbol           string
	FetchTimeout     time.Duration
	InferenceTimeout time.Duration
	HistoryDays      int
	Timezone         *time.Location
}

// Result 是一次运行的终态摘要。
type Result struct {
	RunID       string
	TradingDate string
	Stage       Stage
	Consensus   *fusion.Consensus
	Err         error
}

// Orchestrator 顺序执行 FETCHING → PREDICTING → FUSING → PERSISTING → EMITTING。
// 任一阶段失败都终止本次运行，历史库与已发布产物保持运行前的状态。
type Orchestrator struct {
	opts       Options
	source     market.Source
	predictors []model.Predictor
	fuser      *fusion.Fuser
	history    store.HistoryStore
	runs       *runlog.Store
	emitter    Emitter

	flight singleflight.Group
	nowFn  func() time.Time
}

func NewOrchestrator(opts Options, source market.Source, predictors []model.Predictor,
	fuser *fusion.Fuser, history store.HistoryStore, runs *runlog.Store, emitter Emitter) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("orchestrator 需要 market source")
	}
	if len(predictors) != len(model.Families()) {
		return nil, fmt.Errorf("orchestrator 需要 %d 个模型适配器, got %d", len(model.Families()), len(predictors))
	}
	if fuser == nil || history == nil || emitter == nil {
		return nil, fmt.Errorf("orchestrator 依赖不完整")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Minute
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 20 * time.Second
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 100
	}
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	return &Orchestrator{
		opts:       opts,
		source:     source,
		predictors: predictors,
		fuser:      fuser,
		history:    history,
		runs:       runs,
		emitter:    emitter,
		nowFn:      time.Now,
	}, nil
}

// WithNowFn 替换时间源（测试用）。
func (o *Orchestrator) WithNowFn(fn func() time.Time) *Orchestrator {
	if fn != nil {
		o.nowFn = fn
	}
	return o
}

// RunOnce 是对外唯一的幂等触发入口（"run once for today"）。
// 同一自然日内并发触发通过 singleflight 合并：后到的触发加入在途运行，
// 绝不会打断一次已进入 PERSISTING/EMITTING 的运行。
func (o *Orchestrator) RunOnce(ctx context.Context) (*Result, error) {
	key := o.nowFn().In(o.opts.Timezone).Format(market.DateLayout)
	v, err, shared := o.flight.Do(key, func() (interface{}, error) {
		return o.run(ctx), nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	if shared {
		logger.Infof("pipeline: 触发与在途运行合并 run_id=%s", res.RunID)
	}
	return res, res.Err
}

func (o *Orchestrator) run(ctx context.Context) *Result {
	startedAt := o.nowFn()
	res := &Result{RunID: uuid.NewString()}
	logger.Infof("pipeline[%s]: 运行开始 symbol=%s", res.RunID, o.opts.Symbol)

	res.Err = o.execute(ctx, res)
	if res.Err == nil {
		res.Stage = StageDone
		logger.Infof("pipeline[%s]: ✓ 运行完成 trading_date=%s recommendation=%s fused_close=%.2f",
			res.RunID, res.TradingDate, res.Consensus.Recommendation, res.Consensus.FusedClose)
	} else {
		logger.Errorf("pipeline[%s]: 运行失败于 %s: %v", res.RunID, res.Stage, res.Err)
	}
	o.recordRun(res, startedAt)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, res *Result) error {
	// FETCHING
	res.Stage = StageFetching
	windowDays := 0
	for _, p := range o.predictors {
		if p.Lookback() > windowDays {
			windowDays = p.Lookback()
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	window, err := o.source.FetchWindow(fetchCtx, o.opts.Symbol, windowDays)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("行情拉取超时: %v: %w", err, market.ErrDataUnavailable)
		}
		return err
	}
	currentPrice := window.LastClose()
	tradingDate := market.NextTradingDay(window.EndDate()).Format(market.DateLayout)
	res.TradingDate = tradingDate

	// 顺带回填：窗口最后一个交易日若有历史预测，现在它的实际收盘价已知。
	o.backfillOutcome(ctx, window)

	// PREDICTING：三个适配器并行，结果按固定家族顺序收集（绝不按完成顺序）。
	res.Stage = StagePredicting
	predictions := make([]model.Prediction, len(o.predictors))
	group, gctx := errgroup.WithContext(ctx)
	for i, p := range o.predictors {
		group.Go(func() error {
			sub, err := window.Tail(p.Lookback())
			if err != nil {
				return fmt.Errorf("%s: %v: %w", p.Family(), err, model.ErrInvalidWindowSize)
			}
			inferCtx, cancel := context.WithTimeout(gctx, o.opts.InferenceTimeout)
			defer cancel()
			pred, err := p.Predict(inferCtx, sub)
			if err != nil {
				return fmt.Errorf("模型 %s 失败: %w", p.Family(), err)
			}
			predictions[i] = pred
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// 任一模型失败即集成不完整：绝不静默降级。
		return fmt.Errorf("%v: %w", err, fusion.ErrIncompleteEnsemble)
	}

	// FUSING
	res.Stage = StageFusing
	consensus, err := o.fuser.Fuse(predictions, currentPrice, tradingDate)
	if err != nil {
		return err
	}
	res.Consensus = consensus

	// PERSISTING：同日重复 upsert 幂等，后写者整条覆盖。
	res.Stage = StagePersisting
	if err := o.history.Upsert(ctx, store.HistoryRecord{Consensus: *consensus}); err != nil {
		return fmt.Errorf("写入历史记录失败: %w", err)
	}

	// EMITTING
	res.Stage = StageEmitting
	history, err := o.history.ReadRange(ctx, "", "")
	if err != nil {
		return fmt.Errorf("读取历史区间失败: %w", err)
	}
	if len(history) > o.opts.HistoryDays {
		history = history[len(history)-o.opts.HistoryDays:]
	}
	if err := o.emitter.Emit(ctx, *consensus, history); err != nil {
		return fmt.Errorf("发布产物失败: %w", err)
	}
	return nil
}

// backfillOutcome 用窗口内最新收盘价回填此前对该日的预测结果。
// 没有对应记录（ErrUnknownDate）是常态，不算错误。
func (o *Orchestrator) backfillOutcome(ctx context.Context, window *market.FeatureWindow) {
	days := window.Days()
	if len(days) < 2 {
		return
	}
	last := days[len(days)-1]
	prev := days[len(days)-2]
	direction := model.DirectionOf(last.Close, prev.Close)
	err := o.history.BackfillOutcome(ctx, last.DateKey(), last.Close, direction)
	switch {
	case err == nil:
		logger.Infof("pipeline: ✓ 已回填 %s 实际收盘 %.2f (%s)", last.DateKey(), last.Close, direction)
	case errors.Is(err, store.ErrUnknownDate):
		logger.Debugf("pipeline: %s 无历史预测可回填", last.DateKey())
	default:
		logger.Warnf("pipeline: 回填 %s 失败: %v", last.DateKey(), err)
	}
}

func (o *Orchestrator) recordRun(res *Result, startedAt time.Time) {
	if o.runs == nil {
		return
	}
	rec := runlog.RunRecord{
		ID:          res.RunID,
		TradingDate: res.TradingDate,
		Status:      string(res.Stage),
		StartedAt:   startedAt,
		FinishedAt:  o.nowFn(),
	}
	if res.Err != nil {
		rec.Status = string(StageFailed)
		rec.FailedStage = string(res.Stage)
		rec.CauseClass = classifyCause(res.Err)
		rec.Message = res.Err.Error()
	}
	// 运行日志只服务于排障，写失败不影响运行结果。
	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.runs.Insert(logCtx, rec); err != nil {
		logger.Warnf("pipeline: 写运行日志失败: %v", err)
	}
}

// classifyCause 区分瞬态（下次调度自愈）与持久（需人工修模型工件）失败。
func classifyCause(err error) runlog.CauseClass {
	switch {
	case errors.Is(err, market.ErrDataUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return runlog.CauseTransient
	case errors.Is(err, model.ErrModelUnavailable),
		errors.Is(err, model.ErrInference),
		errors.Is(err, model.ErrInvalidWindowSize),
		errors.Is(err, fusion.ErrIncompleteEnsemble),
		errors.Is(err, fusion.ErrMissingBaseline):
		return runlog.CauseDurable
	default:
		return runlog.CauseTransient
	}
}
