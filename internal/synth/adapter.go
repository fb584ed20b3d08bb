// Package synth 包装合成后端：限流、调用、结果归一化（RGBA、输入尺寸）与错误分类。
package synth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"tilext/internal/codec"
	"tilext/internal/diag"
	"tilext/internal/geometry"
	"tilext/internal/rate"
	"tilext/pkg/contract"
)

// Adapter: 单次合成调用的统一入口；并发安全（状态仅在后端与 gate 内）。
type Adapter struct {
	backend contract.Synthesizer
	gate    rate.Gate
	key     rate.LimitKey
	logger  *diag.Logger
}

// NewAdapter 构造适配器；gate 为 nil 时不限流，logger 为 nil 时不记录。
func NewAdapter(backend contract.Synthesizer, gate rate.Gate, key rate.LimitKey, logger *diag.Logger) *Adapter {
	if gate == nil {
		gate = rate.Nop()
	}
	return &Adapter{backend: backend, gate: gate, key: key, logger: logger}
}

// Synthesize 对 tile 执行一次补全并返回与输入同尺寸的新瓦片。
// 规则：
// - 不重试；
// - ctx 取消原样返回；
// - 其余失败统一包裹 ErrSynthesisFailure（保留原因链）。
func (a *Adapter) Synthesize(ctx context.Context, step string, req contract.SynthRequest) (*image.RGBA, error) {
	if a == nil || a.backend == nil {
		return nil, fmt.Errorf("%w: no synthesis backend", contract.ErrConfiguration)
	}
	if req.Image == nil {
		return nil, fmt.Errorf("%w: %w: nil input tile", contract.ErrSynthesisFailure, contract.ErrInvalidInput)
	}
	size := req.Image.Bounds().Size()
	tm := a.logger.StartWithKV("synth", "synth start", "", step, map[string]string{"direction": req.Direction.String()})
	if err := a.gate.Wait(ctx, a.key); err != nil {
		return nil, a.fail(ctx, tm, step, err)
	}
	out, err := a.backend.Synthesize(ctx, req)
	if err != nil {
		return nil, a.fail(ctx, tm, step, err)
	}
	if out == nil || out.Bounds().Empty() {
		return nil, a.fail(ctx, tm, step, fmt.Errorf("empty result: %w", contract.ErrResponseInvalid))
	}
	tile := codec.ToTile(out)
	if tile.Bounds().Size() != size {
		tile = geometry.Resize(tile, size.X, size.Y)
	}
	tm.Finish("synth finish", 1)
	diag.IncOp("synth", "finish", "success")
	return tile, nil
}

func (a *Adapter) fail(ctx context.Context, tm *diag.Timer, step string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		a.logger.ErrorWith("synth", string(diag.CodeCancel), err.Error(), tm.Since(), "", step)
		diag.RecordError("synth", err)
		return err
	}
	if !errors.Is(err, contract.ErrSynthesisFailure) {
		err = fmt.Errorf("%w: %w", contract.ErrSynthesisFailure, err)
	}
	var kv map[string]string
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv = map[string]string{"status": strconv.Itoa(ue.UpstreamStatus()), "upstream": ue.UpstreamMessage()}
	}
	code := diag.RecordError("synth", err)
	a.logger.ErrorWithKV("synth", string(code), err.Error(), tm.Since(), "", step, kv)
	return err
}
