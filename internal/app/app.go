package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	ncfg "niftycast/internal/config"
	"niftycast/internal/logger"
	"niftycast/internal/market"
	"niftycast/internal/pipeline"
	"niftycast/internal/scheduler"
	"niftycast/internal/store"
	"niftycast/internal/store/runlog"
	httpapi "niftycast/internal/transport/http"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与每日调度。
type App struct {
	cfg          *ncfg.Config
	tz           *time.Location
	orchestrator *pipeline.Orchestrator
	server       *httpapi.Server
	watcher      *ncfg.ThresholdWatcher
	source       market.Source
	history      store.HistoryStore
	runs         *runlog.Store
	Summary      *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *ncfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，并按配置启动每日调度循环。
// ctx 取消后两者优雅退出，存储句柄随之关闭。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Schedule.Enabled {
		sched, err := scheduler.NewDailyScheduler(ctx, a.cfg.Schedule.RunAt, a.tz)
		if err != nil {
			return err
		}
		sched.RunImmediately = a.cfg.Schedule.RunImmediately
		group.Go(func() error {
			sched.Start(a.runOnce(ctx))
			return nil
		})
	} else {
		logger.Warnf("schedule.enabled=false，仅接受 HTTP 手动触发")
	}

	return group.Wait()
}

// Orchestrator 暴露流水线入口（测试与回放用）。
func (a *App) Orchestrator() *pipeline.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orchestrator
}

func (a *App) runOnce(ctx context.Context) func() {
	return func() {
		if _, err := a.orchestrator.RunOnce(ctx); err != nil {
			logger.Errorf("定时运行失败: %v", err)
		}
	}
}

func (a *App) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warnf("关闭历史库失败: %v", err)
		}
	}
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("关闭运行日志库失败: %v", err)
		}
	}
	if a.source != nil {
		_ = a.source.Close()
	}
}
