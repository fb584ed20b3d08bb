// Package chain 驱动单条方向扩展链：快照上下文 → 准备帧 → 合成 → 记录工件 → 追加，重复 N 次。
package chain

import (
	"context"
	"fmt"
	"image"
	"strconv"

	"tilext/internal/diag"
	"tilext/internal/geometry"
	"tilext/internal/prompt"
	"tilext/pkg/contract"
)

// Kind: 链类型。
type Kind int

const (
	// Horizontal: 左/右链，锚定种子。
	Horizontal Kind = iota + 1
	// VerticalDirect: 上/下链，锚定水平邻居，无提示注入。
	VerticalDirect
	// VerticalCenter: 上/下中心列，锚定种子，逐层注入对角提示。
	VerticalCenter
)

func (k Kind) String() string {
	switch k {
	case Horizontal:
		return "horizontal"
	case VerticalDirect:
		return "vertical_direct"
	case VerticalCenter:
		return "vertical_center"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Spec 描述一条链；构造后不可变。
type Spec struct {
	Kind       Kind
	Direction  contract.Direction
	Label      string // 竖直链的列标签（如 right_col、center_column）；水平链忽略
	Anchor     *image.RGBA
	Iterations int
	// LeftGuide/RightGuide: 中心列第 i 层使用的左右对角瓦片。
	LeftGuide  []*image.RGBA
	RightGuide []*image.RGBA
	HintRatio  float64
}

// Name 返回链的日志名。
func (s Spec) Name() string {
	if s.Kind == Horizontal {
		return s.Direction.String() + "_h"
	}
	return s.Label + "_" + s.Direction.String()
}

// StepID 返回第 idx 次迭代（从 1 计）的步骤标识。
func (s Spec) StepID(idx int) string {
	if s.Kind == Horizontal {
		return fmt.Sprintf("%s_h_%02d", s.Direction, idx)
	}
	return fmt.Sprintf("%s_%s_%02d", s.Label, s.Direction, idx)
}

// Validate 在任何合成调用前检查前置条件。
func (s Spec) Validate() error {
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: chain direction %v", contract.ErrConfiguration, s.Direction)
	}
	switch s.Kind {
	case Horizontal:
		if s.Direction.Axis() != contract.Horizontal {
			return fmt.Errorf("%w: %s chain cannot grow %s", contract.ErrConfiguration, s.Kind, s.Direction)
		}
	case VerticalDirect, VerticalCenter:
		if s.Direction.Axis() != contract.Vertical {
			return fmt.Errorf("%w: %s chain cannot grow %s", contract.ErrConfiguration, s.Kind, s.Direction)
		}
		if s.Label == "" {
			return fmt.Errorf("%w: vertical chain without label", contract.ErrInvariantViolation)
		}
	default:
		return fmt.Errorf("%w: unknown chain kind %v", contract.ErrInvariantViolation, s.Kind)
	}
	if s.Iterations < 0 {
		return fmt.Errorf("%w: negative iterations %d", contract.ErrConfiguration, s.Iterations)
	}
	if s.Anchor == nil {
		return fmt.Errorf("%w: chain %s has no anchor", contract.ErrInvariantViolation, s.Name())
	}
	sz := s.Anchor.Bounds().Size()
	n := sz.X
	if s.Direction.Axis() == contract.Vertical {
		n = sz.Y
	}
	if _, _, err := geometry.Thirds(n); err != nil {
		return err
	}
	if s.Kind != VerticalCenter || s.Iterations == 0 {
		return nil
	}
	if !(s.HintRatio > 0 && s.HintRatio < 1) {
		return fmt.Errorf("%w: hint ratio %v outside (0,1)", contract.ErrConfiguration, s.HintRatio)
	}
	if len(s.LeftGuide) < s.Iterations || len(s.RightGuide) < s.Iterations {
		return fmt.Errorf("%w: %s needs %d diagonal tiles per side, have left=%d right=%d",
			contract.ErrInsufficientGuidance, s.Name(), s.Iterations, len(s.LeftGuide), len(s.RightGuide))
	}
	for i := 0; i < s.Iterations; i++ {
		if s.LeftGuide[i] == nil || s.RightGuide[i] == nil {
			return fmt.Errorf("%w: %s guide %d is nil", contract.ErrInsufficientGuidance, s.Name(), i+1)
		}
	}
	return nil
}

// Synthesizer: 引擎所需的最小合成接口（*synth.Adapter 满足）。
type Synthesizer interface {
	Synthesize(ctx context.Context, step string, req contract.SynthRequest) (*image.RGBA, error)
}

// Engine 执行链；自身无可变状态，可被多条链并发复用。
type Engine struct {
	synth   Synthesizer
	prompts prompt.Table
	trace   contract.TraceSink
	logger  *diag.Logger
}

// New 构造引擎；trace 为 nil 时不落盘。
func New(s Synthesizer, prompts prompt.Table, trace contract.TraceSink, logger *diag.Logger) *Engine {
	if trace == nil {
		trace = nopSink{}
	}
	return &Engine{synth: s, prompts: prompts, trace: trace, logger: logger}
}

// Run 执行链并按顺序返回全部合成瓦片（整瓦片，非切带）。
// 任一迭代失败立即返回，已写的追踪工件保留。
func (e *Engine) Run(ctx context.Context, s Spec) ([]*image.RGBA, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	p, err := e.prompts.For(s.Direction)
	if err != nil {
		return nil, err
	}
	name := s.Name()
	tm := e.logger.StartWithKV("chain", "chain start", name, "", map[string]string{
		"kind":       s.Kind.String(),
		"iterations": strconv.Itoa(s.Iterations),
	})
	tiles := make([]*image.RGBA, 0, s.Iterations)
	cur := s.Anchor
	for idx := 1; idx <= s.Iterations; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := s.StepID(idx)
		out, err := e.iterate(ctx, s, idx, step, cur, p)
		if err != nil {
			code := diag.Classify(err)
			e.logger.ErrorWith("chain", string(code), err.Error(), tm.Since(), name, step)
			return nil, fmt.Errorf("chain %s step %s: %w", name, step, err)
		}
		tiles = append(tiles, out)
		cur = out
	}
	tm.Finish("chain finish", int64(len(tiles)))
	return tiles, nil
}

// iterate 执行单次迭代：context → input → result → column|band。
func (e *Engine) iterate(ctx context.Context, s Spec, idx int, step string, cur *image.RGBA, p string) (*image.RGBA, error) {
	e.save(ctx, s, step, "context", cur, contract.PNG)
	frame, err := geometry.Slide(cur, s.Direction)
	if err != nil {
		return nil, err
	}
	if s.Kind == VerticalCenter {
		frame, err = geometry.InjectEdgeHints(frame, s.Direction, s.LeftGuide[idx-1], s.RightGuide[idx-1], s.HintRatio)
		if err != nil {
			return nil, err
		}
	}
	e.save(ctx, s, step, "input", frame, contract.PNG)
	out, err := e.synth.Synthesize(ctx, step, contract.SynthRequest{Image: frame, Prompt: p, Direction: s.Direction})
	if err != nil {
		return nil, err
	}
	e.save(ctx, s, step, "result", out, contract.JPEG)
	band, err := geometry.ExtractBand(out, s.Direction)
	if err != nil {
		return nil, err
	}
	bandName := "band"
	if s.Kind == Horizontal {
		bandName = "column"
	}
	e.save(ctx, s, step, bandName, band, contract.PNG)
	return out, nil
}

// save 写追踪工件；失败只记 warn 与计数，不中断链。
func (e *Engine) save(ctx context.Context, s Spec, step, name string, img image.Image, f contract.Format) {
	if err := e.trace.Save(ctx, step, name, img, f); err != nil {
		code := diag.Classify(err)
		diag.IncError("trace", string(code))
		e.logger.Warn("trace", string(code), err.Error(), s.Name(), step, map[string]string{"artifact": name})
	}
}

type nopSink struct{}

func (nopSink) Save(context.Context, string, string, image.Image, contract.Format) error { return nil }
