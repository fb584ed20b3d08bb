package contract

import (
	"context"
	"image"
)

// SynthRequest: 一次补全请求。
// Image 为已滑动（可能已注入边缘提示）的帧；Prompt 为方向对应的提示词。
type SynthRequest struct {
	Image     *image.RGBA
	Prompt    string
	Direction Direction
}

// Synthesizer: 远端图像合成后端。
// 单次调用、同步返回；应尊重 ctx 取消/超时；不做内部重试。
// 返回图像尺寸可与输入不同，由上层适配器统一缩放。
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (image.Image, error)
}
