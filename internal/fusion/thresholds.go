package fusion

import "fmt"

// Thresholds 是推荐档位的涨跌幅阈值，来自研究基线的业务规则：
// 预测涨幅 > buy 给 BUY，跌幅 < sell 给 SELL，其余 HOLD。
// 以配置项暴露（fusion.buy_threshold / fusion.sell_threshold），不写死在代码里。
type Thresholds struct {
	Buy  float64 `json:"buy_threshold" toml:"buy_threshold"`
	Sell float64 `json:"sell_threshold" toml:"sell_threshold"`
}

// DefaultThresholds 返回文档化的默认阈值：+2% / -0.5%。
func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 0.02, Sell: -0.005}
}

// Validate 要求 sell < 0 < buy，否则推荐函数的三个档位无法成立。
func (t Thresholds) Validate() error {
	if !(t.Sell < 0) {
		return fmt.Errorf("fusion.sell_threshold 必须为负数, got %v", t.Sell)
	}
	if !(t.Buy > 0) {
		return fmt.Errorf("fusion.buy_threshold 必须为正数, got %v", t.Buy)
	}
	return nil
}
