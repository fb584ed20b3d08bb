package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"

	"tilext/internal/geometry"
	"tilext/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailOn: 第几次调用失败（从 1 计）；<=0 时取 1。
	FailOn int `json:"fail_on"`
	// DelayMS: 每次调用前的等待（毫秒），可被 ctx 取消；用于观察兄弟链取消。
	DelayMS int `json:"delay_ms"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的合成实现：
// 第 FailOn 次调用返回上游错误；
// 其余调用原样回显输入副本。
type Client struct {
	failOn  int32
	delay   time.Duration
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.Synthesizer, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %v: %w", err, contract.ErrConfiguration)
		}
	}
	if o.FailOn <= 0 {
		o.FailOn = 1
	}
	return &Client{failOn: int32(o.FailOn), delay: time.Duration(o.DelayMS) * time.Millisecond, logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Synthesize 实现 contract.Synthesizer。
func (c *Client) Synthesize(ctx context.Context, req contract.SynthRequest) (image.Image, error) {
	n := c.count.Add(1)
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.log(fmt.Sprintf("%d canceled", n))
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if n == c.failOn {
		c.log(fmt.Sprintf("%d failed %s", n, req.Direction))
		return nil, fmt.Errorf("flaky: injected failure on call %d: %w", n, contract.ErrResponseInvalid)
	}
	if req.Image == nil {
		return nil, fmt.Errorf("flaky: %w: nil image", contract.ErrInvalidInput)
	}
	c.log(fmt.Sprintf("%d ok %s", n, req.Direction))
	return geometry.Clone(req.Image), nil
}

// Calls 返回累计调用次数（含失败与取消）。
func (c *Client) Calls() int { return int(c.count.Load()) }

var _ contract.Synthesizer = (*Client)(nil)
