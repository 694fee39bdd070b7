package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"niftycast/internal/artifact"
	ncfg "niftycast/internal/config"
	"niftycast/internal/dashboard"
	"niftycast/internal/fusion"
	"niftycast/internal/logger"
	"niftycast/internal/market"
	"niftycast/internal/market/yahoo"
	"niftycast/internal/model"
	"niftycast/internal/pipeline"
	"niftycast/internal/store"
	"niftycast/internal/store/gormstore"
	"niftycast/internal/store/runlog"
	httpapi "niftycast/internal/transport/http"
)

type AppBuilder struct {
	cfg *ncfg.Config

	sourceFn   func(ncfg.MarketConfig) (market.Source, error)
	registryFn func(string) (*model.Registry, error)
	watcherFn  func(string, fusion.Thresholds) (*ncfg.ThresholdWatcher, error)
	serverFn   func(httpapi.ServerConfig) (*httpapi.Server, error)

	historyOverride store.HistoryStore
	runlogOverride  *runlog.Store
	emitterOverride pipeline.Emitter
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *ncfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourceFn:   buildMarketSource,
		registryFn: model.LoadRegistry,
		watcherFn:  ncfg.NewThresholdWatcher,
		serverFn:   httpapi.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	tz, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败 (%s): %w", cfg.Schedule.Timezone, err)
	}

	registry, err := b.registryFn(cfg.Models.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("加载模型注册表失败: %w", err)
	}
	adapters := registry.Adapters()
	predictors := make([]model.Predictor, len(adapters))
	metrics := make(map[model.Family]model.ArtifactMetrics, len(adapters))
	for i, a := range adapters {
		predictors[i] = a
		metrics[a.Family()] = a.Metrics()
	}
	logger.Infof("✓ 模型注册表就绪 families=%d lookback=%d", len(adapters), registry.Lookback())

	source, err := b.sourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}

	watcher, err := b.watcherFn(cfg.Path(), fusion.Thresholds{
		Buy:  cfg.Fusion.BuyThreshold,
		Sell: cfg.Fusion.SellThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化阈值监听失败: %w", err)
	}
	fuser := fusion.NewFuser(watcher.Current)

	stores, err := b.resolveStores(cfg)
	if err != nil {
		return nil, err
	}

	emitter := b.emitterOverride
	if emitter == nil {
		generator := dashboard.NewGenerator(cfg.Dashboard.Title, tz, metrics)
		built, err := artifact.NewEmitter(cfg.Dashboard.OutputDir, generator)
		if err != nil {
			return nil, fmt.Errorf("初始化产物输出失败: %w", err)
		}
		emitter = built
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Options{
		Symbol:           cfg.Market.Symbol,
		FetchTimeout:     time.Duration(cfg.Market.FetchTimeoutSeconds) * time.Second,
		InferenceTimeout: time.Duration(cfg.Models.InferenceTimeoutSeconds) * time.Second,
		HistoryDays:      cfg.Dashboard.HistoryDays,
		Timezone:         tz,
	}, source, predictors, fuser, stores.history, stores.runs, emitter)
	if err != nil {
		return nil, fmt.Errorf("初始化流水线失败: %w", err)
	}

	server, err := b.serverFn(httpapi.ServerConfig{
		Addr:         cfg.App.HTTPAddr,
		API:          httpapi.NewRouter(stores.history, stores.runs, orchestrator),
		DashboardDir: cfg.Dashboard.OutputDir,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:          cfg,
		tz:           tz,
		orchestrator: orchestrator,
		server:       server,
		watcher:      watcher,
		source:       source,
		history:      stores.history,
		runs:         stores.runs,
		Summary: &StartupSummary{
			Symbol:    cfg.Market.Symbol,
			Families:  familyVersions(adapters),
			Lookback:  registry.Lookback(),
			RunAt:     cfg.Schedule.RunAt,
			Timezone:  cfg.Schedule.Timezone,
			OutputDir: cfg.Dashboard.OutputDir,
			HTTPAddr:  cfg.App.HTTPAddr,
		},
	}, nil
}

type storeSetup struct {
	history store.HistoryStore
	runs    *runlog.Store
}

func (b *AppBuilder) resolveStores(cfg *ncfg.Config) (storeSetup, error) {
	var out storeSetup
	if b.historyOverride != nil {
		out.history = b.historyOverride
	} else {
		path := strings.TrimSpace(cfg.Store.HistoryPath)
		if path == "" {
			return storeSetup{}, fmt.Errorf("store.history_path 未配置，无法初始化历史库")
		}
		hs, err := gormstore.NewHistoryStore(path)
		if err != nil {
			return storeSetup{}, fmt.Errorf("初始化历史库失败: %w", err)
		}
		out.history = hs
	}

	if b.runlogOverride != nil {
		out.runs = b.runlogOverride
	} else if path := strings.TrimSpace(cfg.Store.RunLogPath); path != "" {
		rs, err := runlog.New(path)
		if err != nil {
			return storeSetup{}, fmt.Errorf("初始化运行日志库失败: %w", err)
		}
		out.runs = rs
	}
	return out, nil
}

func buildMarketSource(cfg ncfg.MarketConfig) (market.Source, error) {
	return yahoo.New(yahoo.Config{
		BaseURL:       cfg.BaseURL,
		HTTPTimeout:   time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		RetryAttempts: cfg.RetryAttempts,
		RetryGap:      time.Duration(cfg.RetryGapSeconds) * time.Second,
		RetryMaxGap:   time.Duration(cfg.RetryMaxGapSeconds) * time.Second,
	}), nil
}

func familyVersions(adapters []*model.Adapter) []string {
	out := make([]string, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, fmt.Sprintf("%s@%s", a.Family(), a.Version()))
	}
	return out
}

func WithMarketSource(fn func(ncfg.MarketConfig) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourceFn = fn
		}
	}
}

func WithRegistryLoader(fn func(string) (*model.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.registryFn = fn
		}
	}
}

func WithThresholdWatcher(fn func(string, fusion.Thresholds) (*ncfg.ThresholdWatcher, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.watcherFn = fn
		}
	}
}

func WithStorageOverrides(history store.HistoryStore, runs *runlog.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		if history != nil {
			b.historyOverride = history
		}
		if runs != nil {
			b.runlogOverride = runs
		}
	}
}

func WithEmitter(emitter pipeline.Emitter) AppBuilderOption {
	return func(b *AppBuilder) {
		if emitter != nil {
			b.emitterOverride = emitter
		}
	}
}
