package pipeline

import (
	"context"
	"fmt"

	"tilext/internal/chain"
	"tilext/internal/codec"
	"tilext/internal/diag"
	"tilext/internal/geometry"
	"tilext/internal/grid"
	"tilext/internal/synth"
	"tilext/pkg/contract"
)

// Strip 单向条带模式：只沿水平方向 d 生长 set.Horizontal 块，拼成一行画布写出。
// 不做竖直扩展与提示注入；Up/Down 被忽略。失败时不写输出。
func Strip(ctx context.Context, comp Components, set Settings, d contract.Direction, logger *diag.Logger) (Result, error) {
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	if !d.Valid() || d.Axis() != contract.Horizontal {
		return Result{}, fmt.Errorf("%w: strip cannot grow %v", contract.ErrConfiguration, d)
	}
	set.Up, set.Down = 0, 0
	if err := set.Validate(); err != nil {
		return Result{}, err
	}
	rtimer := logger.Start("pipeline", "strip start")
	fail := func(stage string, err error) (Result, error) {
		code := diag.RecordError("pipeline", err)
		logger.Error("pipeline", string(code), stage+" failed", rtimer.Since())
		return Result{}, err
	}
	seed, err := codec.LoadFile(set.SeedPath)
	if err != nil {
		return fail("seed", fmt.Errorf("load seed: %w", err))
	}
	if _, _, err := geometry.Thirds(seed.Bounds().Dx()); err != nil {
		return fail("seed", fmt.Errorf("seed width: %w", err))
	}
	if comp.Trace != nil {
		if err := comp.Trace.Save(ctx, "seed", "seed", seed, contract.PNG); err != nil {
			logger.Warn("trace", string(diag.Classify(err)), err.Error(), "", "seed", nil)
		}
	}
	g, err := grid.New(seed)
	if err != nil {
		return fail("grid", err)
	}
	eng := chain.New(synth.NewAdapter(comp.Synth, set.Gate, set.GateKey, logger), set.Prompts, comp.Trace, logger)
	tiles, err := eng.Run(ctx, chain.Spec{Kind: chain.Horizontal, Direction: d, Anchor: seed, Iterations: set.Horizontal})
	if err != nil {
		return fail("chain", err)
	}
	for i, t := range tiles {
		if err := g.Put(grid.Coord{}.Step(d, i+1), t); err != nil {
			return fail("grid", err)
		}
	}
	canvas, stage, err := emit(ctx, comp.Writer, set.Output, g, logger)
	if err != nil {
		return fail(stage, err)
	}
	rtimer.Finish("strip finish", int64(g.Len()))
	diag.IncOp("pipeline", "strip", "success")
	return Result{Tiles: g.Len(), Canvas: canvas.Bounds().Size(), Output: set.Output}, nil
}
