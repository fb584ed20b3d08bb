package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tilext/internal/codec"
	"tilext/internal/grid"
	"tilext/pkg/contract"
	"tilext/plugins/synth/dry"
	"tilext/plugins/synth/flaky"
)

// 通用桩件 ----------------------------------------------------

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type memWriter struct {
	mu  sync.Mutex
	got map[contract.ArtifactID][]byte
}

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.got == nil {
		w.got = map[contract.ArtifactID][]byte{}
	}
	w.got[id] = b
	return nil
}

// stepSink 记录 result 工件的写入顺序（即合成完成顺序）。
type stepSink struct {
	mu    sync.Mutex
	steps []string
}

func (s *stepSink) Save(_ context.Context, step, name string, _ image.Image, _ contract.Format) error {
	if name != "result" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return nil
}

func newDry(t *testing.T) *dry.Client {
	t.Helper()
	s, err := dry.New(nil)
	require.NoError(t, err)
	return s.(*dry.Client)
}

func settings(h, u, d int) Settings {
	return Settings{SeedPath: "seed.png", Output: "out.png", Horizontal: h, Up: u, Down: d, HintRatio: 0.18, Concurrency: 1}
}

func coords(cs ...[2]int) []grid.Coord {
	out := make([]grid.Coord, 0, len(cs))
	for _, c := range cs {
		out = append(out, grid.Coord{Col: c[0], Row: c[1]})
	}
	return out
}

// H=2, U=1, D=1：中心列 + 对角列 + 外侧级联，共 15 个坐标
func TestBuildPlacement(t *testing.T) {
	want := coords(
		[2]int{-2, 1}, [2]int{-1, 1}, [2]int{0, 1}, [2]int{1, 1}, [2]int{2, 1},
		[2]int{-2, 0}, [2]int{-1, 0}, [2]int{0, 0}, [2]int{1, 0}, [2]int{2, 0},
		[2]int{-2, -1}, [2]int{-1, -1}, [2]int{0, -1}, [2]int{1, -1}, [2]int{2, -1},
	)
	for _, c := range []int{1, 4} {
		syn := newDry(t)
		g, err := Build(context.Background(), Components{Synth: syn}, Settings{Horizontal: 2, Up: 1, Down: 1, HintRatio: 0.18, Concurrency: c}, solid(9, 9, color.RGBA{0, 128, 0, 255}), nil)
		require.NoError(t, err, "并发=%d", c)
		assert.Equal(t, want, g.Coords(), "并发=%d", c)
		assert.EqualValues(t, 14, syn.Calls(), "每个非种子瓦片恰好一次合成")
	}
}

func TestBuildVerticalLevels(t *testing.T) {
	g, err := Build(context.Background(), Components{Synth: newDry(t)}, Settings{Horizontal: 1, Up: 2, Down: 0, HintRatio: 0.18}, solid(9, 9, color.RGBA{255, 0, 0, 255}), nil)
	require.NoError(t, err)
	want := coords(
		[2]int{-1, 2}, [2]int{0, 2}, [2]int{1, 2},
		[2]int{-1, 1}, [2]int{0, 1}, [2]int{1, 1},
		[2]int{-1, 0}, [2]int{0, 0}, [2]int{1, 0},
	)
	assert.Equal(t, want, g.Coords())
}

// 阶段顺序：水平 → 对角 → 中心 → 级联
func TestBuildStageOrder(t *testing.T) {
	sink := &stepSink{}
	_, err := Build(context.Background(), Components{Synth: newDry(t), Trace: sink}, Settings{Horizontal: 2, Up: 1, Down: 1, HintRatio: 0.18}, solid(9, 9, color.RGBA{1, 2, 3, 255}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"right_h_01", "right_h_02", "left_h_01", "left_h_02",
		"right_col_up_01", "left_col_up_01", "right_col_down_01", "left_col_down_01",
		"center_column_up_01", "center_column_down_01",
		"right_col_2_up_01", "right_col_2_down_01", "left_col_2_up_01", "left_col_2_down_01",
	}, sink.steps)
}

func TestBuildRejectsBeforeSynthesis(t *testing.T) {
	cases := []struct {
		name string
		set  Settings
		seed *image.RGBA
		want error
	}{
		{"horizontal-zero", Settings{Horizontal: 0, HintRatio: 0.18}, solid(9, 9, color.RGBA{}), contract.ErrConfiguration},
		{"negative-up", Settings{Horizontal: 1, Up: -1, HintRatio: 0.18}, solid(9, 9, color.RGBA{}), contract.ErrConfiguration},
		{"ratio", Settings{Horizontal: 1, HintRatio: 0}, solid(9, 9, color.RGBA{}), contract.ErrConfiguration},
		{"narrow-seed", Settings{Horizontal: 1, HintRatio: 0.18}, solid(2, 9, color.RGBA{}), contract.ErrInvalidGeometry},
		{"flat-seed", Settings{Horizontal: 1, Up: 1, HintRatio: 0.18}, solid(9, 2, color.RGBA{}), contract.ErrInvalidGeometry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			syn := newDry(t)
			_, err := Build(context.Background(), Components{Synth: syn}, tc.set, tc.seed, nil)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, syn.Calls())
		})
	}
	// 扁平种子在不做竖直扩展时合法
	_, err := Build(context.Background(), Components{Synth: newDry(t)}, Settings{Horizontal: 1, HintRatio: 0.18}, solid(9, 2, color.RGBA{}), nil)
	assert.NoError(t, err)
}

// 首错取消：并发执行时一条链失败，兄弟链被取消，无泄漏
func TestBuildFailureCancelsSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)
	syn, err := flaky.New([]byte(`{"fail_on":1,"delay_ms":20}`))
	require.NoError(t, err)
	_, err = Build(context.Background(), Components{Synth: syn}, Settings{Horizontal: 3, Up: 2, Down: 2, HintRatio: 0.18, Concurrency: 2}, solid(9, 9, color.RGBA{}), nil)
	assert.ErrorIs(t, err, contract.ErrSynthesisFailure)
	// 首错后兄弟链至多再发起一次（随即被取消），后续阶段不执行
	assert.LessOrEqual(t, syn.(*flaky.Client).Calls(), 3)
}

func TestRunWritesCanvas(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.png")
	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, solid(30, 30, color.RGBA{10, 20, 30, 255}), contract.PNG))
	require.NoError(t, os.WriteFile(seedPath, buf.Bytes(), 0o644))

	w := &memWriter{}
	tr := &stepSink{}
	set := settings(1, 1, 0)
	set.SeedPath = seedPath
	res, err := Run(context.Background(), Components{Synth: newDry(t), Writer: w, Trace: tr}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Tiles)
	assert.Equal(t, image.Pt(90, 60), res.Canvas)

	out, _, err := codec.Decode(bytes.NewReader(w.got["out.png"]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 90, 60), out.Bounds())
	// 种子位于 (0,0) → 画布 (30..60, 30..60)
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, out.RGBAAt(45, 45))
}

func TestRunFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.png")
	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, solid(9, 9, color.RGBA{}), contract.PNG))
	require.NoError(t, os.WriteFile(seedPath, buf.Bytes(), 0o644))

	syn, err := flaky.New([]byte(`{"fail_on":3}`))
	require.NoError(t, err)
	w := &memWriter{}
	set := settings(2, 0, 0)
	set.SeedPath = seedPath
	_, err = Run(context.Background(), Components{Synth: syn, Writer: w}, set, nil)
	assert.ErrorIs(t, err, contract.ErrSynthesisFailure)
	assert.Empty(t, w.got, "失败时不得写出最终画布")
}

func TestRunMissingSeed(t *testing.T) {
	set := settings(1, 0, 0)
	set.SeedPath = filepath.Join(t.TempDir(), "missing.png")
	syn := newDry(t)
	_, err := Run(context.Background(), Components{Synth: syn, Writer: &memWriter{}}, set, nil)
	assert.ErrorIs(t, err, contract.ErrConfiguration)
	assert.Zero(t, syn.Calls())
}

// 条带模式：仅向一侧生长，种子留在起始端
func TestStrip(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.png")
	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, solid(30, 30, color.RGBA{10, 20, 30, 255}), contract.PNG))
	require.NoError(t, os.WriteFile(seedPath, buf.Bytes(), 0o644))

	for _, tc := range []struct {
		d     contract.Direction
		seedX int
	}{{contract.Right, 15}, {contract.Left, 75}} {
		syn := newDry(t)
		w := &memWriter{}
		set := settings(2, 3, 3)
		set.SeedPath = seedPath
		set.Output = "seed_extended.png"
		res, err := Strip(context.Background(), Components{Synth: syn, Writer: w}, set, tc.d, nil)
		require.NoError(t, err, tc.d)
		assert.Equal(t, 3, res.Tiles)
		assert.Equal(t, image.Pt(90, 30), res.Canvas, "竖直参数应被忽略")
		assert.Equal(t, int64(2), syn.Calls())

		out, _, err := codec.Decode(bytes.NewReader(w.got["seed_extended.png"]))
		require.NoError(t, err)
		assert.Equal(t, color.RGBA{10, 20, 30, 255}, out.RGBAAt(tc.seedX, 15), tc.d)
	}
}

func TestStripRejects(t *testing.T) {
	set := settings(1, 0, 0)
	syn := newDry(t)
	_, err := Strip(context.Background(), Components{Synth: syn, Writer: &memWriter{}}, set, contract.Up, nil)
	assert.ErrorIs(t, err, contract.ErrConfiguration)

	set.Horizontal = 0
	_, err = Strip(context.Background(), Components{Synth: syn, Writer: &memWriter{}}, set, contract.Right, nil)
	assert.ErrorIs(t, err, contract.ErrConfiguration)
	assert.Zero(t, syn.Calls())
}

func TestTopoOrder(t *testing.T) {
	nop := func(*plan) ([]job, error) { return nil, nil }
	order, err := topoOrder(defaultStages())
	require.NoError(t, err)
	ids := make([]StageID, 0, len(order))
	for _, s := range order {
		ids = append(ids, s.id)
	}
	assert.Equal(t, []StageID{StageHorizontal, StageDiagonal, StageCenter, StageCascade}, ids)

	// 声明顺序与依赖相反时仍按依赖执行
	order, err = topoOrder([]stage{{id: "b", deps: []StageID{"a"}, plan: nop}, {id: "a", plan: nop}})
	require.NoError(t, err)
	assert.Equal(t, StageID("a"), order[0].id)

	_, err = topoOrder([]stage{{id: "a", deps: []StageID{"b"}, plan: nop}, {id: "b", deps: []StageID{"a"}, plan: nop}})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	_, err = topoOrder([]stage{{id: "a", deps: []StageID{"zz"}, plan: nop}})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	_, err = topoOrder([]stage{{id: "a", plan: nop}, {id: "a", plan: nop}})
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
}
