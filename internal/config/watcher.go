package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"niftycast/internal/fusion"
	"niftycast/internal/logger"
)

// ThresholdWatcher 监听配置文件，热更新推荐阈值。
// 阈值是唯一允许运行期变更的业务参数；其余配置改动仍需重启。
type ThresholdWatcher struct {
	path string
	v    *viper.Viper

	mu      sync.RWMutex
	current fusion.Thresholds
}

// NewThresholdWatcher 读取初始阈值并开始监听 FS 事件。
// 非法的新值（sell >= 0 或 buy <= 0）会被拒绝并保留旧值。
func NewThresholdWatcher(path string, initial fusion.Thresholds) (*ThresholdWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("threshold watcher requires config path")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config for threshold watch failed: %w", err)
	}
	w := &ThresholdWatcher{path: path, v: v, current: initial}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("threshold reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

// Current 返回当前生效的阈值快照。
func (w *ThresholdWatcher) Current() fusion.Thresholds {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *ThresholdWatcher) reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	next := w.Current()
	if w.v.IsSet("fusion.buy_threshold") {
		next.Buy = w.v.GetFloat64("fusion.buy_threshold")
	}
	if w.v.IsSet("fusion.sell_threshold") {
		next.Sell = w.v.GetFloat64("fusion.sell_threshold")
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("拒绝非法阈值更新: %w", err)
	}
	w.mu.Lock()
	changed := next != w.current
	w.current = next
	w.mu.Unlock()
	if changed {
		logger.Infof("✓ 推荐阈值已热更新 buy=%.4f sell=%.4f (%s)", next.Buy, next.Sell, filepath.Base(w.path))
	}
	return nil
}
