package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Fusion.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("market.symbol 不能为空")
	}
	if m.RetryAttempts <= 0 {
		return fmt.Errorf("market.retry_attempts 必须 > 0")
	}
	return nil
}

func (f *FusionConfig) validate() error {
	if !(f.SellThreshold < 0) {
		return fmt.Errorf("fusion.sell_threshold 必须为负数, got %v", f.SellThreshold)
	}
	if !(f.BuyThreshold > 0) {
		return fmt.Errorf("fusion.buy_threshold 必须为正数, got %v", f.BuyThreshold)
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(s.RunAt)); err != nil {
		return fmt.Errorf("schedule.run_at 必须为 HH:MM 格式, got %q", s.RunAt)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s.Timezone)); err != nil {
		return fmt.Errorf("schedule.timezone 非法 (%q): %w", s.Timezone, err)
	}
	return nil
}
