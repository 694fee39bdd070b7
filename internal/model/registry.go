package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"niftycast/internal/logger"
)

// Manifest 描述三个模型家族各自的工件位置（models.yaml）。
type Manifest struct {
	Models map[string]ManifestEntry `yaml:"models"`
}

type ManifestEntry struct {
	Artifact string `yaml:"artifact"`
}

// Registry 持有按固定顺序排列的三个适配器实例。
// 工件在构造时一次性加载（进程级冻结资源），适配器本身无其他状态。
type Registry struct {
	adapters []*Adapter
}

// LoadRegistry 读取 manifest 并加载全部三个家族的工件。
// 任一家族缺失都视为 ErrModelUnavailable：流水线不允许降级集成。
func LoadRegistry(manifestPath string) (*Registry, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("读取模型 manifest 失败 (%s): %v: %w", manifestPath, err, ErrModelUnavailable)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("解析模型 manifest 失败 (%s): %v: %w", manifestPath, err, ErrModelUnavailable)
	}
	baseDir := filepath.Dir(manifestPath)

	adapters := make([]*Adapter, 0, len(Families()))
	for _, family := range Families() {
		entry, ok := lookupEntry(m.Models, family)
		if !ok || strings.TrimSpace(entry.Artifact) == "" {
			return nil, fmt.Errorf("manifest 缺少 %s 工件配置: %w", family, ErrModelUnavailable)
		}
		path := entry.Artifact
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		art, err := LoadArtifact(path)
		if err != nil {
			return nil, err
		}
		if art.Family != string(family) {
			return nil, fmt.Errorf("工件 %s 声明家族 %s, manifest 期望 %s: %w",
				path, art.Family, family, ErrModelUnavailable)
		}
		adapter, err := NewAdapter(art)
		if err != nil {
			return nil, err
		}
		logger.Infof("✓ 模型工件已加载 family=%s version=%s lookback=%d rmse=%.4f",
			family, art.Version, art.Lookback, art.Metrics.RMSE)
		adapters = append(adapters, adapter)
	}
	return &Registry{adapters: adapters}, nil
}

// Adapters 按固定家族顺序（RNN, LSTM, CNN）返回适配器。
func (r *Registry) Adapters() []*Adapter {
	if r == nil {
		return nil
	}
	out := make([]*Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Lookback 返回所有家族共享的窗口长度；若不一致返回最大值，
// 调用方负责为每个适配器截取各自的窗口。
func (r *Registry) Lookback() int {
	max := 0
	for _, a := range r.adapters {
		if a.Lookback() > max {
			max = a.Lookback()
		}
	}
	return max
}

func lookupEntry(models map[string]ManifestEntry, family Family) (ManifestEntry, bool) {
	if len(models) == 0 {
		return ManifestEntry{}, false
	}
	for key, entry := range models {
		if strings.EqualFold(strings.TrimSpace(key), string(family)) {
			return entry, true
		}
	}
	return ManifestEntry{}, false
}
