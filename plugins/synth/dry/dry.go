// Package dry 提供无网络的合成后端：原样返回输入副本，用于 dry-run 与端到端测试。
package dry

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync/atomic"

	"tilext/internal/geometry"
	"tilext/pkg/contract"
)

// Options: 无必填项。
type Options struct{}

type Client struct {
	calls atomic.Int64
}

// New 构造 dry 后端；选项须为合法 JSON。
func New(raw json.RawMessage) (contract.Synthesizer, error) {
	if len(raw) > 0 {
		var o Options
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("dry options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	return &Client{}, nil
}

// Synthesize 返回输入图像的独立副本。
func (c *Client) Synthesize(ctx context.Context, req contract.SynthRequest) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Image == nil {
		return nil, fmt.Errorf("dry: %w: nil image", contract.ErrInvalidInput)
	}
	c.calls.Add(1)
	return geometry.Clone(req.Image), nil
}

// Calls 返回已完成的调用次数。
func (c *Client) Calls() int64 { return c.calls.Load() }

var _ contract.Synthesizer = (*Client)(nil)
