package model

import (
	"errors"
	"math"
)

// Family 标识一个模型家族。三个家族的顺序固定，下游按位置索引。
type Family string

const (
	FamilyRNN  Family = "RNN"
	FamilyLSTM Family = "LSTM"
	FamilyCNN  Family = "CNN"
)

// Families 返回固定顺序的模型家族列表（RNN, LSTM, CNN）。
func Families() []Family {
	return []Family{FamilyRNN, FamilyLSTM, FamilyCNN}
}

func ParseFamily(s string) (Family, bool) {
	switch Family(s) {
	case FamilyRNN, FamilyLSTM, FamilyCNN:
		return Family(s), true
	}
	return "", false
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionFlat Direction = "flat"
	DirectionDown Direction = "down"
)

// flatBand 是方向判定的中性带：涨跌幅绝对值低于 0.05% 视为持平，
// 避免浮点噪声让方向在 up/down 间抖动。
const flatBand = 0.0005

// DirectionOf 根据预测价与基准价判定方向。
func DirectionOf(predicted, baseline float64) Direction {
	if baseline == 0 || math.IsNaN(baseline) || math.IsNaN(predicted) {
		return DirectionFlat
	}
	change := (predicted - baseline) / baseline
	switch {
	case change > flatBand:
		return DirectionUp
	case change < -flatBand:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// Prediction 是单个模型家族对下一交易日收盘价的点预测。
type Prediction struct {
	Model          Family    `json:"model_name"`
	PredictedClose float64   `json:"predicted_close"`
	Direction      Direction `json:"predicted_direction"`
	ErrorEstimate  float64   `json:"error_estimate"`
}

var (
	// ErrModelUnavailable 表示模型工件缺失或损坏，属于持久性错误（需修复训练产物）。
	ErrModelUnavailable = errors.New("model artifact unavailable")
	// ErrInvalidWindowSize 表示特征窗口长度与模型 lookback 不符，属于配置/编程错误。
	ErrInvalidWindowSize = errors.New("invalid feature window size")
	// ErrInference 表示推理计算因数值原因失败（如输入含 NaN）。
	ErrInference = errors.New("model inference failed")
)
