package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"niftycast/internal/logger"
	"niftycast/internal/market"
	"niftycast/internal/pkg/circuit"
)

// Source 基于 Yahoo Finance chart API 实现 market.Source，用于拉取 ^NSEI 日线。
type Source struct {
	cfg     Config
	client  *http.Client
	retry   market.RetryPolicy
	breaker *circuit.Breaker

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	return &Source{
		cfg:     final,
		client:  &http.Client{Timeout: final.HTTPTimeout},
		retry:   market.NewRetryPolicy(final.RetryAttempts, final.RetryGap, final.RetryMaxGap),
		breaker: circuit.NewBreaker("yahoo", final.BreakerThreshold, final.BreakerCooldown),
	}
}

// WithRetryPolicy 替换重试策略（测试注入假时钟用）。
func (s *Source) WithRetryPolicy(p market.RetryPolicy) *Source {
	s.retry = p
	return s
}

func (s *Source) FetchWindow(ctx context.Context, symbol string, days int) (*market.FeatureWindow, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if days <= 0 {
		return nil, fmt.Errorf("window days must be positive, got %d", days)
	}
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("yahoo source 熔断打开: %w", market.ErrDataUnavailable)
	}

	var parsed []market.Day
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		s.statsMu.Lock()
		s.stats.Requests++
		s.statsMu.Unlock()
		out, err := s.fetchChart(ctx, symbol, rangeForDays(days))
		if err != nil {
			s.recordFailure(err)
			return err
		}
		parsed = out
		return nil
	})
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("fetch %s failed after %d attempts: %v: %w",
			symbol, s.retry.Attempts, err, market.ErrDataUnavailable)
	}
	s.breaker.RecordSuccess()

	if len(parsed) < days {
		err := fmt.Errorf("insufficient history for %s: need %d days, got %d: %w",
			symbol, days, len(parsed), market.ErrDataUnavailable)
		return nil, err
	}
	return market.NewFeatureWindow(parsed[len(parsed)-days:])
}

func (s *Source) fetchChart(ctx context.Context, symbol, rng string) ([]market.Day, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(symbol), rng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart api status %d", resp.StatusCode)
	}
	return parseChart(body)
}

// parseChart 解析 chart API 响应。Yahoo 对停牌日会返回 null，直接跳过。
func parseChart(body []byte) ([]market.Day, error) {
	root := gjson.ParseBytes(body)
	if errDesc := root.Get("chart.error.description"); errDesc.Exists() && errDesc.String() != "" {
		return nil, fmt.Errorf("yahoo chart api error: %s", errDesc.String())
	}
	result := root.Get("chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("yahoo chart api: empty result")
	}
	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()
	if len(timestamps) == 0 || len(closes) != len(timestamps) {
		return nil, fmt.Errorf("yahoo chart api: malformed quote arrays")
	}

	days := make([]market.Day, 0, len(timestamps))
	for i, ts := range timestamps {
		if i >= len(opens) || i >= len(highs) || i >= len(lows) || i >= len(volumes) {
			break
		}
		if closes[i].Type == gjson.Null || closes[i].Float() <= 0 {
			continue
		}
		days = append(days, market.Day{
			Date:   time.Unix(ts.Int(), 0).UTC().Truncate(24 * time.Hour),
			Open:   opens[i].Float(),
			High:   highs[i].Float(),
			Low:    lows[i].Float(),
			Close:  closes[i].Float(),
			Volume: volumes[i].Float(),
		})
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("yahoo chart api: no usable bars")
	}
	return days, nil
}

func rangeForDays(days int) string {
	switch {
	case days <= 20:
		return "1mo"
	case days <= 60:
		return "3mo"
	case days <= 120:
		return "6mo"
	case days <= 250:
		return "1y"
	default:
		return "2y"
	}
}

func (s *Source) recordFailure(err error) {
	s.statsMu.Lock()
	s.stats.Retries++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
	logger.Warnf("yahoo source: fetch attempt failed: %v", err)
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
