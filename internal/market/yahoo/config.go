package yahoo

import (
	"strings"
	"time"
)

type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	UserAgent   string

	RetryAttempts int
	RetryGap      time.Duration
	RetryMaxGap   time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = "https://query1.finance.yahoo.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.UserAgent = strings.TrimSpace(out.UserAgent)
	if out.UserAgent == "" {
		out.UserAgent = "niftycast/1.0"
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.RetryGap <= 0 {
		out.RetryGap = 2 * time.Second
	}
	if out.RetryMaxGap < out.RetryGap {
		out.RetryMaxGap = 30 * time.Second
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 10 * time.Minute
	}
	return out
}
