package config

import "strings"

// Config 是 niftycast 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Models    ModelsConfig    `toml:"models"`
	Fusion    FusionConfig    `toml:"fusion"`
	Store     StoreConfig     `toml:"store"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Schedule  ScheduleConfig  `toml:"schedule"`

	path string
}

// Path 返回加载时的入口配置文件路径（热更新监听用）。
func (c *Config) Path() string { return c.path }

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig 描述行情数据源（Yahoo chart API）。
type MarketConfig struct {
	Symbol              string `toml:"symbol"`
	BaseURL             string `toml:"base_url"`
	HTTPTimeoutSeconds  int    `toml:"http_timeout_seconds"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	RetryAttempts       int    `toml:"retry_attempts"`
	RetryGapSeconds     int    `toml:"retry_gap_seconds"`
	RetryMaxGapSeconds  int    `toml:"retry_max_gap_seconds"`
}

// ModelsConfig 描述冻结模型工件的位置与推理超时。
type ModelsConfig struct {
	ManifestPath            string `toml:"manifest_path"`
	InferenceTimeoutSeconds int    `toml:"inference_timeout_seconds"`
}

// FusionConfig 暴露推荐档位阈值。默认 +2% / -0.5%，来自研究基线。
type FusionConfig struct {
	BuyThreshold  float64 `toml:"buy_threshold"`
	SellThreshold float64 `toml:"sell_threshold"`
}

type StoreConfig struct {
	HistoryPath string `toml:"history_path"`
	RunLogPath  string `toml:"runlog_path"`
}

// DashboardConfig 控制静态产物输出。
type DashboardConfig struct {
	OutputDir   string `toml:"output_dir"`
	Title       string `toml:"title"`
	HistoryDays int    `toml:"history_days"`
}

// ScheduleConfig 控制每日定时运行。RunAt 为 Timezone 下的墙钟时间 HH:MM。
type ScheduleConfig struct {
	Enabled        bool   `toml:"enabled"`
	RunAt          string `toml:"run_at"`
	Timezone       string `toml:"timezone"`
	RunImmediately bool   `toml:"run_immediately"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
