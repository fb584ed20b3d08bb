package contract

import (
	"context"
	"image"
)

// Format: 追踪工件的编码格式。
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// Ext 返回格式对应的文件扩展名（含点）。
func (f Format) Ext() string {
	if f == JPEG {
		return ".jpg"
	}
	return ".png"
}

// TraceSink: 只写追踪工件（step, name）→ 图像。
// 约束：同一 (step, name) 只写一次；管线不读取任何已写工件。
type TraceSink interface {
	Save(ctx context.Context, step, name string, img image.Image, f Format) error
}
