package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"niftycast/internal/fusion"
	"niftycast/internal/logger"
	"niftycast/internal/store"
)

// Document 是发布给展示层的 JSON 产物结构（docs/data.json）。
// 输入相同则内容逐字节相同（generated_at 除外）。
type Document struct {
	Current fusion.Consensus      `json:"current"`
	History []store.HistoryRecord `json:"history"`
}

// Renderer 把同一份数据渲染成静态 HTML 页面。
type Renderer interface {
	Render(current fusion.Consensus, history []store.HistoryRecord) ([]byte, error)
}

// Emitter 负责产物落盘。全部写入走 write-temp-then-rename：
// 失败的运行绝不会把半成品暴露给展示层，读者看到的永远是上一次成功的产物。
type Emitter struct {
	outDir   string
	renderer Renderer
}

func NewEmitter(outDir string, renderer Renderer) (*Emitter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("emitter 需要输出目录")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	return &Emitter{outDir: outDir, renderer: renderer}, nil
}

func (e *Emitter) Emit(ctx context.Context, current fusion.Consensus, history []store.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := Document{Current: current, History: history}
	if doc.History == nil {
		doc.History = []store.HistoryRecord{}
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化产物失败: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(e.outDir, "data.json"), payload); err != nil {
		return err
	}

	if e.renderer != nil {
		html, err := e.renderer.Render(current, history)
		if err != nil {
			return fmt.Errorf("渲染仪表盘失败: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(e.outDir, "index.html"), html); err != nil {
			return err
		}
	}
	logger.Infof("✓ 产物已发布 dir=%s records=%d", e.outDir, len(doc.History))
	return nil
}

// writeFileAtomic 先写同目录临时文件再原子替换，崩溃时旧文件保持完整。
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
