package fusion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"niftycast/internal/model"
)

var (
	// ErrIncompleteEnsemble 表示三个模型输出不齐：部分集成绝不静默平均。
	ErrIncompleteEnsemble = errors.New("incomplete model ensemble")
	// ErrMissingBaseline 表示当前价格缺失或为零，无法计算涨跌幅。
	ErrMissingBaseline = errors.New("missing price baseline")
)

type Recommendation string

const (
	RecommendBuy  Recommendation = "BUY"
	RecommendHold Recommendation = "HOLD"
	RecommendSell Recommendation = "SELL"
)

// Consensus 是一次运行的共识预测。PerModel 恒为固定顺序的三个模型输出
// （RNN, LSTM, CNN），下游可按位置索引。
type Consensus struct {
	TradingDate    string             `json:"trading_date"`
	PerModel       []model.Prediction `json:"per_model"`
	FusedClose     float64            `json:"fused_close"`
	FusedDirection model.Direction    `json:"fused_direction"`
	Recommendation Recommendation     `json:"recommendation"`
	CurrentPrice   float64            `json:"current_price"`
	ChangePct      float64            `json:"change_pct"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// epsilon 防止 error_estimate 为零时除零；远小于任何真实 RMSE。
const epsilon = 1e-8

// Fuser 把三个模型输出融合为一个共识预测。
type Fuser struct {
	thresholdsFn func() Thresholds
	nowFn        func() time.Time
}

// NewFuser 构造融合器。thresholdsFn 每次调用时取当前阈值，支持配置热更新。
func NewFuser(thresholdsFn func() Thresholds) *Fuser {
	if thresholdsFn == nil {
		thresholdsFn = DefaultThresholds
	}
	return &Fuser{thresholdsFn: thresholdsFn, nowFn: time.Now}
}

// WithNowFn 替换时间源（测试用）。
func (f *Fuser) WithNowFn(fn func() time.Time) *Fuser {
	if fn != nil {
		f.nowFn = fn
	}
	return f
}

// Fuse 按误差加权平均融合三个预测：权重 ∝ 1/(error_estimate+ε)，
// 历史误差更小的模型（研究基线中为 LSTM）主导投票。
// 要求恰好三个模型各出现一次，否则 ErrIncompleteEnsemble。
func (f *Fuser) Fuse(predictions []model.Prediction, currentPrice float64, tradingDate string) (*Consensus, error) {
	ordered, err := orderPredictions(predictions)
	if err != nil {
		return nil, err
	}
	if currentPrice == 0 || math.IsNaN(currentPrice) || math.IsInf(currentPrice, 0) {
		return nil, fmt.Errorf("当前价格非法 (%v): %w", currentPrice, ErrMissingBaseline)
	}

	var weightedSum, weightTotal float64
	for _, p := range ordered {
		w := 1.0 / (math.Abs(p.ErrorEstimate) + epsilon)
		weightedSum += w * p.PredictedClose
		weightTotal += w
	}
	fusedClose := weightedSum / weightTotal

	thresholds := f.thresholdsFn()
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	change := changeRatio(fusedClose, currentPrice)
	return &Consensus{
		TradingDate:    tradingDate,
		PerModel:       ordered,
		FusedClose:     fusedClose,
		FusedDirection: model.DirectionOf(fusedClose, currentPrice),
		Recommendation: RecommendationFor(fusedClose, currentPrice, thresholds),
		CurrentPrice:   currentPrice,
		ChangePct:      change,
		GeneratedAt:    f.nowFn().UTC(),
	}, nil
}

// RecommendationFor 是 (fused_close, current_price, thresholds) 的纯函数。
// 阈值比较走 decimal，避免边界值上的浮点误差改变档位。
func RecommendationFor(fusedClose, currentPrice float64, t Thresholds) Recommendation {
	change := decimal.NewFromFloat(fusedClose).
		Sub(decimal.NewFromFloat(currentPrice)).
		Div(decimal.NewFromFloat(currentPrice))
	switch {
	case change.GreaterThan(decimal.NewFromFloat(t.Buy)):
		return RecommendBuy
	case change.LessThan(decimal.NewFromFloat(t.Sell)):
		return RecommendSell
	default:
		return RecommendHold
	}
}

// orderPredictions 校验并按固定家族顺序重排模型输出（绝不按到达顺序）。
func orderPredictions(predictions []model.Prediction) ([]model.Prediction, error) {
	families := model.Families()
	if len(predictions) != len(families) {
		return nil, fmt.Errorf("需要 %d 个模型输出, got %d: %w",
			len(families), len(predictions), ErrIncompleteEnsemble)
	}
	byFamily := make(map[model.Family]model.Prediction, len(predictions))
	for _, p := range predictions {
		if _, dup := byFamily[p.Model]; dup {
			return nil, fmt.Errorf("模型 %s 出现多次: %w", p.Model, ErrIncompleteEnsemble)
		}
		byFamily[p.Model] = p
	}
	ordered := make([]model.Prediction, 0, len(families))
	for _, family := range families {
		p, ok := byFamily[family]
		if !ok {
			return nil, fmt.Errorf("缺少模型 %s 的输出: %w", family, ErrIncompleteEnsemble)
		}
		ordered = append(ordered, p)
	}
	return ordered, nil
}

func changeRatio(fusedClose, currentPrice float64) float64 {
	return (fusedClose - currentPrice) / currentPrice
}
