// Package trace 将每个合成步骤的中间图像落盘为可检查的工件（<step>/<name><ext>）。
package trace

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"tilext/internal/codec"
	"tilext/pkg/contract"
)

// Recorder: 基于 Writer 的只写追踪工件记录器；并发安全。
type Recorder struct {
	w    contract.Writer
	mu   sync.Mutex
	seen map[contract.ArtifactID]struct{}
}

// NewRecorder 以 Writer 为后端构造记录器；w 为 nil 时返回 Nop 语义的记录器。
func NewRecorder(w contract.Writer) *Recorder {
	return &Recorder{w: w, seen: make(map[contract.ArtifactID]struct{})}
}

// ID 计算工件标识（不做写入）。
func ID(step, name string, f contract.Format) contract.ArtifactID {
	return contract.JoinArtifactID(step, name+f.Ext())
}

// Save 编码并写入 <step>/<name><ext>。
// 规则：
// - step/name 为空返回 ErrInvalidInput；
// - 同一 (step, name) 重复写入返回 ErrInvariantViolation；
// - 写入失败后该标识仍视为已占用，不做重试。
func (r *Recorder) Save(ctx context.Context, step, name string, img image.Image, f contract.Format) error {
	if r == nil || r.w == nil {
		return nil
	}
	if strings.TrimSpace(step) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("trace: %w: empty step or name", contract.ErrInvalidInput)
	}
	if img == nil {
		return fmt.Errorf("trace: %w: nil image for %s/%s", contract.ErrInvalidInput, step, name)
	}
	id := ID(step, name, f)
	r.mu.Lock()
	if _, dup := r.seen[id]; dup {
		r.mu.Unlock()
		return fmt.Errorf("trace: %w: artifact %s already written", contract.ErrInvariantViolation, id)
	}
	r.seen[id] = struct{}{}
	r.mu.Unlock()
	return codec.WriteImage(ctx, r.w, id, img, f)
}

// Len 返回已登记的工件数。
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type nop struct{}

func (nop) Save(context.Context, string, string, image.Image, contract.Format) error { return nil }

// Nop 返回丢弃一切的 TraceSink（dry-run 未指定 trace 目录时使用）。
func Nop() contract.TraceSink { return nop{} }
