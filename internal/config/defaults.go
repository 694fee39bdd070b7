package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9980"
	defaultAppLogPath        = "data/logs/niftycast.log"
	defaultMarketSymbol      = "^NSEI"
	defaultMarketHTTPTimeout = 15
	defaultMarketFetchTime   = 60
	defaultMarketAttempts    = 3
	defaultMarketRetryGap    = 2
	defaultMarketRetryMaxGap = 30
	defaultModelsManifest    = "models/models.yaml"
	defaultModelsInference   = 20
	defaultFusionBuy         = 0.02
	defaultFusionSell        = -0.005
	defaultStoreHistoryPath  = "data/db/history.db"
	defaultStoreRunLogPath   = "data/db/runs.db"
	defaultDashboardOutDir   = "docs"
	defaultDashboardTitle    = "NIFTY 50 预测仪表盘"
	defaultDashboardHistory  = 100
	defaultScheduleRunAt     = "17:00"
	defaultScheduleTimezone  = "Asia/Kolkata"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Models.applyDefaults(keys)
	c.Fusion.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Dashboard.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.symbol", &m.Symbol, defaultMarketSymbol),
		fieldDefault{
			key:   "market.http_timeout_seconds",
			need:  func() bool { return m.HTTPTimeoutSeconds <= 0 },
			apply: func() { m.HTTPTimeoutSeconds = defaultMarketHTTPTimeout },
		},
		fieldDefault{
			key:   "market.fetch_timeout_seconds",
			need:  func() bool { return m.FetchTimeoutSeconds <= 0 },
			apply: func() { m.FetchTimeoutSeconds = defaultMarketFetchTime },
		},
		fieldDefault{
			key:   "market.retry_attempts",
			need:  func() bool { return m.RetryAttempts <= 0 },
			apply: func() { m.RetryAttempts = defaultMarketAttempts },
		},
		fieldDefault{
			key:   "market.retry_gap_seconds",
			need:  func() bool { return m.RetryGapSeconds <= 0 },
			apply: func() { m.RetryGapSeconds = defaultMarketRetryGap },
		},
		fieldDefault{
			key:   "market.retry_max_gap_seconds",
			need:  func() bool { return m.RetryMaxGapSeconds <= 0 },
			apply: func() { m.RetryMaxGapSeconds = defaultMarketRetryMaxGap },
		},
	)
}

func (m *ModelsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("models.manifest_path", &m.ManifestPath, defaultModelsManifest),
		fieldDefault{
			key:   "models.inference_timeout_seconds",
			need:  func() bool { return m.InferenceTimeoutSeconds <= 0 },
			apply: func() { m.InferenceTimeoutSeconds = defaultModelsInference },
		},
	)
}

func (f *FusionConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "fusion.buy_threshold",
			need:  func() bool { return f.BuyThreshold == 0 },
			apply: func() { f.BuyThreshold = defaultFusionBuy },
		},
		fieldDefault{
			key:   "fusion.sell_threshold",
			need:  func() bool { return f.SellThreshold == 0 },
			apply: func() { f.SellThreshold = defaultFusionSell },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.history_path", &s.HistoryPath, defaultStoreHistoryPath),
		stringFieldDefault("store.runlog_path", &s.RunLogPath, defaultStoreRunLogPath),
	)
}

func (d *DashboardConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("dashboard.output_dir", &d.OutputDir, defaultDashboardOutDir),
		stringFieldDefault("dashboard.title", &d.Title, defaultDashboardTitle),
		fieldDefault{
			key:   "dashboard.history_days",
			need:  func() bool { return d.HistoryDays <= 0 },
			apply: func() { d.HistoryDays = defaultDashboardHistory },
		},
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("schedule.enabled", &s.Enabled, true),
		stringFieldDefault("schedule.run_at", &s.RunAt, defaultScheduleRunAt),
		stringFieldDefault("schedule.timezone", &s.Timezone, defaultScheduleTimezone),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
