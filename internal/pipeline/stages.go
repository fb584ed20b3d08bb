package pipeline

import (
	"fmt"
	"strings"

	"tilext/internal/chain"
	"tilext/internal/grid"
	"tilext/pkg/contract"
)

// StageID: 扩展阶段标识。
type StageID string

const (
	StageHorizontal StageID = "horizontal"
	StageDiagonal   StageID = "diagonal"
	StageCenter     StageID = "center"
	StageCascade    StageID = "cascade"
)

// job: 阶段内一条链及其放置原点；第 L 个结果落在 origin.Step(dir, L)。
type job struct {
	spec   chain.Spec
	origin grid.Coord
	key    string // 结果登记名，供后续阶段取用
}

// stage: 依赖声明 + 基于已完成结果生成本阶段的链。
type stage struct {
	id   StageID
	deps []StageID
	plan func(p *plan) ([]job, error)
}

// topoOrder 以 Kahn 算法给出执行顺序；同层按声明顺序。
// 未知依赖、重复阶段或成环返回 ErrInvariantViolation。
func topoOrder(stages []stage) ([]stage, error) {
	idx := make(map[StageID]int, len(stages))
	for i, s := range stages {
		if _, dup := idx[s.id]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", contract.ErrInvariantViolation, s.id)
		}
		idx[s.id] = i
	}
	indeg := make([]int, len(stages))
	next := make([][]int, len(stages))
	for i, s := range stages {
		for _, d := range s.deps {
			j, ok := idx[d]
			if !ok {
				return nil, fmt.Errorf("%w: stage %q depends on unknown %q", contract.ErrInvariantViolation, s.id, d)
			}
			indeg[i]++
			next[j] = append(next[j], i)
		}
	}
	out := make([]stage, 0, len(stages))
	done := make([]bool, len(stages))
	for len(out) < len(stages) {
		picked := -1
		for i := range stages {
			if !done[i] && indeg[i] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			return nil, fmt.Errorf("%w: stage graph has a cycle", contract.ErrInvariantViolation)
		}
		done[picked] = true
		out = append(out, stages[picked])
		for _, n := range next[picked] {
			indeg[n]--
		}
	}
	return out, nil
}

func resultKey(parts ...string) string { return strings.Join(parts, "/") }

// vspan: 一个竖直方向及其层数。
type vspan struct {
	dir contract.Direction
	n   int
}

// verticals 返回需要生成的竖直方向（0 层跳过）。
func verticals(s Settings) []vspan {
	var out []vspan
	if s.Up > 0 {
		out = append(out, vspan{contract.Up, s.Up})
	}
	if s.Down > 0 {
		out = append(out, vspan{contract.Down, s.Down})
	}
	return out
}

// defaultStages: 水平 → 对角直连 → 中心列（对角引导）→ 外侧级联。
func defaultStages() []stage {
	return []stage{
		{id: StageHorizontal, plan: planHorizontal},
		{id: StageDiagonal, deps: []StageID{StageHorizontal}, plan: planDiagonal},
		{id: StageCenter, deps: []StageID{StageDiagonal}, plan: planCenter},
		{id: StageCascade, deps: []StageID{StageCenter}, plan: planCascade},
	}
}

func planHorizontal(p *plan) ([]job, error) {
	jobs := make([]job, 0, 2)
	for _, d := range []contract.Direction{contract.Right, contract.Left} {
		jobs = append(jobs, job{
			spec:   chain.Spec{Kind: chain.Horizontal, Direction: d, Anchor: p.seed, Iterations: p.set.Horizontal},
			origin: grid.Coord{},
			key:    resultKey("h", d.String()),
		})
	}
	return jobs, nil
}

// planDiagonal: 紧邻水平瓦片（索引 0）上的直连竖直链，作为中心列的对角引导。
func planDiagonal(p *plan) ([]job, error) {
	right, err := p.first(resultKey("h", "right"))
	if err != nil {
		return nil, err
	}
	left, err := p.first(resultKey("h", "left"))
	if err != nil {
		return nil, err
	}
	var jobs []job
	for _, v := range verticals(p.set) {
		jobs = append(jobs,
			job{
				spec:   chain.Spec{Kind: chain.VerticalDirect, Direction: v.dir, Label: "right_col", Anchor: right, Iterations: v.n},
				origin: grid.Coord{Col: 1},
				key:    resultKey("diag", v.dir.String(), "right"),
			},
			job{
				spec:   chain.Spec{Kind: chain.VerticalDirect, Direction: v.dir, Label: "left_col", Anchor: left, Iterations: v.n},
				origin: grid.Coord{Col: -1},
				key:    resultKey("diag", v.dir.String(), "left"),
			},
		)
	}
	return jobs, nil
}

func planCenter(p *plan) ([]job, error) {
	var jobs []job
	for _, v := range verticals(p.set) {
		jobs = append(jobs, job{
			spec: chain.Spec{
				Kind: chain.VerticalCenter, Direction: v.dir, Label: "center_column",
				Anchor: p.seed, Iterations: v.n, HintRatio: p.set.HintRatio,
				LeftGuide:  p.results(resultKey("diag", v.dir.String(), "left")),
				RightGuide: p.results(resultKey("diag", v.dir.String(), "right")),
			},
			origin: grid.Coord{},
			key:    resultKey("center", v.dir.String()),
		})
	}
	return jobs, nil
}

// planCascade: 索引 ≥1（偏移 ≥2）的水平瓦片上各自独立的直连竖直链。
func planCascade(p *plan) ([]job, error) {
	var jobs []job
	for _, side := range []contract.Direction{contract.Right, contract.Left} {
		tiles := p.results(resultKey("h", side.String()))
		dc, _ := side.Step()
		for k := 2; k <= len(tiles); k++ {
			label := fmt.Sprintf("%s_col_%d", side, k)
			for _, v := range verticals(p.set) {
				jobs = append(jobs, job{
					spec:   chain.Spec{Kind: chain.VerticalDirect, Direction: v.dir, Label: label, Anchor: tiles[k-1], Iterations: v.n},
					origin: grid.Coord{Col: dc * k},
					key:    resultKey("cascade", label, v.dir.String()),
				})
			}
		}
	}
	return jobs, nil
}
