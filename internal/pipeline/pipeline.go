package pipeline

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tilext/internal/chain"
	"tilext/internal/codec"
	"tilext/internal/diag"
	"tilext/internal/geometry"
	"tilext/internal/grid"
	"tilext/internal/prompt"
	"tilext/internal/rate"
	"tilext/internal/synth"
	"tilext/internal/trace"
	"tilext/pkg/contract"
)

// - 阶段屏障：阶段按依赖图拓扑序执行，前一阶段全部链完成才进入下一阶段。
// - 阶段内并发：同阶段链互不依赖，由 errgroup 按 Concurrency 限并发（默认 1，即顺序执行）。
// - 首错取消：任一链失败即取消同阶段兄弟链；整次运行放弃，网格丢弃，不写输出。
// - 追踪工件：失败前已写的工件保留。

// Components 聚合运行所需的原子组件。
type Components struct {
	Synth  contract.Synthesizer
	Trace  contract.TraceSink // 可选；nil 时不落盘
	Writer contract.Writer    // 最终画布输出
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	SeedPath   string
	Output     contract.ArtifactID
	Horizontal int
	Up         int
	Down       int
	HintRatio  float64
	// Concurrency: 单阶段内并发链数；<1 视为 1。
	Concurrency int
	Prompts     prompt.Table
	// 限流闸门（可选）：若非空，则在每次合成前调用 Gate.Wait
	Gate rate.Gate
	// 限流分组键（外部根据 Provider 生成）
	GateKey rate.LimitKey
}

// Result: 一次成功运行的摘要。
type Result struct {
	Tiles  int
	Canvas image.Point
	Output contract.ArtifactID
}

// Validate 检查与种子无关的运行参数；失败均为 ErrConfiguration。
func (s Settings) Validate() error {
	if s.Horizontal < 1 {
		return fmt.Errorf("%w: horizontal must be at least 1 to provide diagonal guidance, got %d", contract.ErrConfiguration, s.Horizontal)
	}
	if s.Up < 0 || s.Down < 0 {
		return fmt.Errorf("%w: up/down must be >= 0, got up=%d down=%d", contract.ErrConfiguration, s.Up, s.Down)
	}
	if !(s.HintRatio > 0 && s.HintRatio < 1) {
		return fmt.Errorf("%w: hint ratio %v outside (0,1)", contract.ErrConfiguration, s.HintRatio)
	}
	return nil
}

func (s Settings) normalized() Settings {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.Prompts.IsZero() {
		s.Prompts = prompt.Default()
	}
	return s
}

// plan: 单次构建的共享状态（网格 + 各链结果登记）。
type plan struct {
	set  Settings
	seed *image.RGBA
	grid *grid.Grid
	mu   sync.Mutex
	res  map[string][]*image.RGBA
}

func (p *plan) store(key string, tiles []*image.RGBA) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res[key] = tiles
}

func (p *plan) results(key string) []*image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res[key]
}

func (p *plan) first(key string) (*image.RGBA, error) {
	ts := p.results(key)
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: no tiles recorded for %s", contract.ErrInvariantViolation, key)
	}
	return ts[0], nil
}

// Build 从种子开始按阶段扩展并返回填充完成的网格。
// 约束：
// - 参数与种子几何在任何合成调用前校验；
// - 任一链失败即返回错误，网格丢弃。
func Build(ctx context.Context, comp Components, set Settings, seed *image.RGBA, logger *diag.Logger) (*grid.Grid, error) {
	if comp.Synth == nil {
		return nil, fmt.Errorf("%w: missing synthesis backend", contract.ErrConfiguration)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	set = set.normalized()
	if seed == nil {
		return nil, fmt.Errorf("%w: nil seed tile", contract.ErrConfiguration)
	}
	sz := seed.Bounds().Size()
	if _, _, err := geometry.Thirds(sz.X); err != nil {
		return nil, fmt.Errorf("seed width: %w", err)
	}
	if set.Up+set.Down > 0 {
		if _, _, err := geometry.Thirds(sz.Y); err != nil {
			return nil, fmt.Errorf("seed height: %w", err)
		}
	}
	g, err := grid.New(seed)
	if err != nil {
		return nil, err
	}
	order, err := topoOrder(defaultStages())
	if err != nil {
		return nil, err
	}
	tr := comp.Trace
	if tr == nil {
		tr = trace.Nop()
	}
	eng := chain.New(synth.NewAdapter(comp.Synth, set.Gate, set.GateKey, logger), set.Prompts, tr, logger)
	p := &plan{set: set, seed: seed, grid: g, res: make(map[string][]*image.RGBA)}
	for _, st := range order {
		jobs, err := st.plan(p)
		if err != nil {
			return nil, fmt.Errorf("stage %s plan: %w", st.id, err)
		}
		if err := runStage(ctx, eng, p, st.id, jobs, logger); err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.id, err)
		}
	}
	return g, nil
}

// runStage 并发执行阶段内的链并把结果写入网格；Wait 即阶段屏障。
func runStage(ctx context.Context, eng *chain.Engine, p *plan, id StageID, jobs []job, logger *diag.Logger) error {
	t0 := time.Now()
	tm := logger.StartWithKV("pipeline", "stage start", "", string(id), map[string]string{"chains": strconv.Itoa(len(jobs))})
	term := diag.GetTerminal()
	term.StageStart(string(id), len(jobs))
	var done, errs atomic.Int32
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.set.Concurrency)
	for _, j := range jobs {
		eg.Go(func() error {
			tiles, err := eng.Run(gctx, j.spec)
			if err == nil {
				err = place(p, j, tiles)
			}
			if err != nil {
				errs.Add(1)
			} else {
				done.Add(1)
			}
			term.ChainProgress(int(done.Load()), len(jobs), int(errs.Load()))
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		code := diag.RecordError("pipeline", err)
		logger.ErrorWith("pipeline", string(code), err.Error(), tm.Since(), "", string(id))
		term.StageFinish(false, time.Since(t0))
		return err
	}
	tm.Finish("stage finish", int64(len(jobs)))
	diag.IncOp("pipeline", string(id), "success")
	term.StageFinish(true, time.Since(t0))
	return nil
}

// place 把链结果按层落位并登记，供后续阶段引用。
func place(p *plan, j job, tiles []*image.RGBA) error {
	for i, t := range tiles {
		if err := p.grid.Put(j.origin.Step(j.spec.Direction, i+1), t); err != nil {
			return err
		}
	}
	p.store(j.key, tiles)
	return nil
}

// Run 执行完整流水线：加载种子 → 记录 seed/seed → Build → Stitch → 编码写出。
// 任一失败都不写最终输出。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	rtimer := logger.Start("pipeline", "run start")
	fail := func(stage string, err error) (Result, error) {
		code := diag.RecordError("pipeline", err)
		logger.Error("pipeline", string(code), stage+" failed", rtimer.Since())
		return Result{}, err
	}
	seed, err := codec.LoadFile(set.SeedPath)
	if err != nil {
		return fail("seed", fmt.Errorf("load seed: %w", err))
	}
	if comp.Trace != nil {
		if err := comp.Trace.Save(ctx, "seed", "seed", seed, contract.PNG); err != nil {
			logger.Warn("trace", string(diag.Classify(err)), err.Error(), "", "seed", nil)
		}
	}
	g, err := Build(ctx, comp, set, seed, logger)
	if err != nil {
		// 阶段内失败已计数，这里只记录运行级事件
		logger.Error("pipeline", string(diag.Classify(err)), "build failed", rtimer.Since())
		return Result{}, err
	}
	canvas, stage, err := emit(ctx, comp.Writer, set.Output, g, logger)
	if err != nil {
		return fail(stage, err)
	}
	rtimer.Finish("run finish", int64(g.Len()))
	diag.IncOp("pipeline", "finish", "success")
	return Result{Tiles: g.Len(), Canvas: canvas.Bounds().Size(), Output: set.Output}, nil
}

// emit 拼接网格并编码写出；失败时返回出错的环节名（stitch/write）。
func emit(ctx context.Context, w contract.Writer, out contract.ArtifactID, g *grid.Grid, logger *diag.Logger) (*image.RGBA, string, error) {
	canvas, err := grid.Stitch(g)
	if err != nil {
		return nil, "stitch", fmt.Errorf("stitch: %w", err)
	}
	wtimer := logger.StartWith("writer", "write", "", string(out))
	if err := codec.WriteImage(ctx, w, out, canvas, codec.FormatForPath(string(out))); err != nil {
		return nil, "write", fmt.Errorf("writer write: %w", err)
	}
	wtimer.Finish("write", 1)
	diag.IncOp("writer", "finish", "success")
	return canvas, "", nil
}

func sanity(c Components, s Settings) error {
	if c.Synth == nil || c.Writer == nil {
		return fmt.Errorf("%w: pipeline: missing components", contract.ErrConfiguration)
	}
	if s.SeedPath == "" {
		return fmt.Errorf("%w: pipeline: empty seed path", contract.ErrConfiguration)
	}
	if s.Output == "" {
		return fmt.Errorf("%w: pipeline: empty output", contract.ErrConfiguration)
	}
	return s.Validate()
}
