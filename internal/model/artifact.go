package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Artifact 是训练任务导出的冻结模型工件。进程启动时加载一次，之后只读。
type Artifact struct {
	Family    string          `json:"family"`
	Version   string          `json:"version"`
	Lookback  int             `json:"lookback"`
	TrendDays int             `json:"trend_days"`
	TrendGain float64         `json:"trend_gain"`
	Metrics   ArtifactMetrics `json:"metrics"`
}

// ArtifactMetrics 是研究基线给出的误差指标（归一化尺度）。
type ArtifactMetrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
	MSE  float64 `json:"mse"`
}

// artifactSchema 约束工件文件结构，加载时先校验再反序列化，
// 损坏的工件在启动阶段即报 ErrModelUnavailable。
const artifactSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["family", "version", "lookback", "trend_days", "trend_gain", "metrics"],
  "properties": {
    "family": {"type": "string", "enum": ["RNN", "LSTM", "CNN"]},
    "version": {"type": "string", "minLength": 1},
    "lookback": {"type": "integer", "minimum": 2},
    "trend_days": {"type": "integer", "minimum": 2},
    "trend_gain": {"type": "number"},
    "metrics": {
      "type": "object",
      "required": ["rmse", "mae", "r2", "mse"],
      "properties": {
        "rmse": {"type": "number", "exclusiveMinimum": 0},
        "mae": {"type": "number", "minimum": 0},
        "r2": {"type": "number"},
        "mse": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var compiledArtifactSchema = jsonschema.MustCompileString("artifact.schema.json", artifactSchema)

// LoadArtifact 读取并校验模型工件文件。任何缺失/损坏都包装 ErrModelUnavailable。
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模型工件失败 (%s): %v: %w", path, err, ErrModelUnavailable)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("模型工件不是合法 JSON (%s): %v: %w", path, err, ErrModelUnavailable)
	}
	if err := compiledArtifactSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("模型工件 schema 校验失败 (%s): %v: %w", path, err, ErrModelUnavailable)
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("解析模型工件失败 (%s): %v: %w", path, err, ErrModelUnavailable)
	}
	if art.TrendDays > art.Lookback {
		return nil, fmt.Errorf("模型工件 trend_days(%d) 超过 lookback(%d): %w",
			art.TrendDays, art.Lookback, ErrModelUnavailable)
	}
	return &art, nil
}
