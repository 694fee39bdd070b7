package model

import (
	"context"
	"fmt"
	"math"

	"niftycast/internal/market"
)

// Predictor 是模型适配器的统一契约。实现必须是无状态的（除已加载的冻结工件外），
// 同一窗口重复调用必须返回相同结果。
type Predictor interface {
	Family() Family
	// Lookback 返回该模型要求的特征窗口长度。
	Lookback() int
	Predict(ctx context.Context, window *market.FeatureWindow) (Prediction, error)
}

// Adapter 包装一个冻结模型工件，对外提供确定性的点预测。
// 三个家族共享同一套闭式求值，差异全部来自工件参数。
type Adapter struct {
	family   Family
	artifact *Artifact
}

// NewAdapter 基于已加载的工件构造适配器。
func NewAdapter(art *Artifact) (*Adapter, error) {
	if art == nil {
		return nil, fmt.Errorf("artifact 不能为空: %w", ErrModelUnavailable)
	}
	family, ok := ParseFamily(art.Family)
	if !ok {
		return nil, fmt.Errorf("未知模型家族 %q: %w", art.Family, ErrModelUnavailable)
	}
	return &Adapter{family: family, artifact: art}, nil
}

func (a *Adapter) Family() Family { return a.family }

// Lookback 返回该模型要求的窗口长度。
func (a *Adapter) Lookback() int { return a.artifact.Lookback }

// Metrics 返回工件携带的研究基线误差指标。
func (a *Adapter) Metrics() ArtifactMetrics { return a.artifact.Metrics }

// Version 返回工件版本号。
func (a *Adapter) Version() string { return a.artifact.Version }

// Predict 对下一交易日收盘价做点预测。
// 窗口长度必须等于工件 lookback；输入含 NaN/Inf 时报 ErrInference。
func (a *Adapter) Predict(ctx context.Context, window *market.FeatureWindow) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if window.Len() != a.artifact.Lookback {
		return Prediction{}, fmt.Errorf("%s: window 长度 %d, 需要 %d: %w",
			a.family, window.Len(), a.artifact.Lookback, ErrInvalidWindowSize)
	}
	closes := window.Closes()
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return Prediction{}, fmt.Errorf("%s: 收盘价序列第 %d 项非法 (%v): %w",
				a.family, i, c, ErrInference)
		}
	}

	current := closes[len(closes)-1]
	anchor := closes[len(closes)-a.artifact.TrendDays]
	recentChange := (current - anchor) / anchor
	predicted := current * (1 + recentChange*a.artifact.TrendGain)
	if math.IsNaN(predicted) || math.IsInf(predicted, 0) || predicted <= 0 {
		return Prediction{}, fmt.Errorf("%s: 预测值非法 (%v): %w", a.family, predicted, ErrInference)
	}

	return Prediction{
		Model:          a.family,
		PredictedClose: predicted,
		Direction:      DirectionOf(predicted, current),
		ErrorEstimate:  a.artifact.Metrics.RMSE,
	}, nil
}
