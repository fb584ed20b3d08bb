package chain

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tilext/internal/diag"
	"tilext/internal/prompt"
	"tilext/pkg/contract"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	white = color.RGBA{255, 255, 255, 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// echo: 原样返回输入，记录调用与提示词。
type echo struct {
	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
	steps   []string
	failOn  int32
}

func (e *echo) Synthesize(ctx context.Context, step string, req contract.SynthRequest) (*image.RGBA, error) {
	n := e.calls.Add(1)
	if n == e.failOn {
		return nil, contract.ErrSynthesisFailure
	}
	e.mu.Lock()
	e.prompts = append(e.prompts, req.Prompt)
	e.steps = append(e.steps, step)
	e.mu.Unlock()
	out := image.NewRGBA(req.Image.Bounds())
	copy(out.Pix, req.Image.Pix)
	return out, nil
}

type artifact struct {
	step, name string
	format     contract.Format
}

type memSink struct {
	mu  sync.Mutex
	got []artifact
	err error
}

func (m *memSink) Save(_ context.Context, step, name string, _ image.Image, f contract.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, artifact{step, name, f})
	return m.err
}

func TestHorizontalChain(t *testing.T) {
	syn, sink := &echo{}, &memSink{}
	e := New(syn, prompt.Default(), sink, nil)
	tiles, err := e.Run(context.Background(), Spec{Kind: Horizontal, Direction: contract.Right, Anchor: solid(9, 9, green), Iterations: 2})
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	// 每次向右滑动留出右侧 1/3 白带，echo 不填充
	assert.Equal(t, green, tiles[0].RGBAAt(0, 4))
	assert.Equal(t, white, tiles[0].RGBAAt(8, 4))
	assert.Equal(t, white, tiles[1].RGBAAt(5, 4), "第二次以第一次结果为上下文")
	assert.Equal(t, green, tiles[1].RGBAAt(2, 4))

	assert.Equal(t, []string{"right_h_01", "right_h_02"}, syn.steps)
	assert.Equal(t, []string{"fill in the blank area on the right", "fill in the blank area on the right"}, syn.prompts)
	assert.Equal(t, []artifact{
		{"right_h_01", "context", contract.PNG},
		{"right_h_01", "input", contract.PNG},
		{"right_h_01", "result", contract.JPEG},
		{"right_h_01", "column", contract.PNG},
		{"right_h_02", "context", contract.PNG},
		{"right_h_02", "input", contract.PNG},
		{"right_h_02", "result", contract.JPEG},
		{"right_h_02", "column", contract.PNG},
	}, sink.got)
}

func TestVerticalDirectChain(t *testing.T) {
	sink := &memSink{}
	e := New(&echo{}, prompt.Default(), sink, nil)
	tiles, err := e.Run(context.Background(), Spec{Kind: VerticalDirect, Direction: contract.Down, Label: "left_col", Anchor: solid(6, 6, blue), Iterations: 1})
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, blue, tiles[0].RGBAAt(3, 0))
	assert.Equal(t, white, tiles[0].RGBAAt(3, 5))
	require.Len(t, sink.got, 4)
	assert.Equal(t, "left_col_down_01", sink.got[3].step)
	assert.Equal(t, "band", sink.got[3].name)
}

func TestCenterChainInjectsHints(t *testing.T) {
	e := New(&echo{}, prompt.Default(), nil, nil)
	spec := Spec{
		Kind: VerticalCenter, Direction: contract.Up, Label: "center_column",
		Anchor: solid(90, 90, green), Iterations: 1, HintRatio: 0.18,
		LeftGuide: []*image.RGBA{solid(90, 90, red)}, RightGuide: []*image.RGBA{solid(90, 90, blue)},
	}
	tiles, err := e.Run(context.Background(), spec)
	require.NoError(t, err)
	out := tiles[0]
	// 上滑：空白带 [0,30)；提示条宽 round(16.2)=16
	assert.Equal(t, red, out.RGBAAt(0, 0))
	assert.Equal(t, red, out.RGBAAt(15, 29))
	assert.Equal(t, white, out.RGBAAt(16, 10))
	assert.Equal(t, white, out.RGBAAt(45, 0))
	assert.Equal(t, blue, out.RGBAAt(74, 0))
	assert.Equal(t, blue, out.RGBAAt(89, 29))
	assert.Equal(t, green, out.RGBAAt(45, 30))
	assert.Equal(t, green, out.RGBAAt(0, 89))
}

func TestCenterChainInsufficientGuidance(t *testing.T) {
	syn, sink := &echo{}, &memSink{}
	e := New(syn, prompt.Default(), sink, nil)
	guides := []*image.RGBA{solid(9, 9, red), solid(9, 9, red)}
	_, err := e.Run(context.Background(), Spec{
		Kind: VerticalCenter, Direction: contract.Up, Label: "center_column",
		Anchor: solid(9, 9, green), Iterations: 3, HintRatio: 0.18,
		LeftGuide: guides, RightGuide: guides,
	})
	assert.ErrorIs(t, err, contract.ErrInsufficientGuidance)
	assert.Zero(t, syn.calls.Load(), "前置条件失败不应发起合成")
	assert.Empty(t, sink.got)
}

func TestValidate(t *testing.T) {
	a := solid(9, 9, green)
	cases := []struct {
		name string
		spec Spec
		want error
	}{
		{"axis-mismatch", Spec{Kind: Horizontal, Direction: contract.Up, Anchor: a}, contract.ErrConfiguration},
		{"vertical-left", Spec{Kind: VerticalDirect, Direction: contract.Left, Label: "x", Anchor: a}, contract.ErrConfiguration},
		{"bad-direction", Spec{Kind: Horizontal, Anchor: a}, contract.ErrConfiguration},
		{"negative", Spec{Kind: Horizontal, Direction: contract.Left, Anchor: a, Iterations: -1}, contract.ErrConfiguration},
		{"no-anchor", Spec{Kind: Horizontal, Direction: contract.Left}, contract.ErrInvariantViolation},
		{"no-label", Spec{Kind: VerticalDirect, Direction: contract.Up, Anchor: a}, contract.ErrInvariantViolation},
		{"tiny", Spec{Kind: Horizontal, Direction: contract.Left, Anchor: solid(2, 9, green), Iterations: 1}, contract.ErrInvalidGeometry},
		{"ratio", Spec{Kind: VerticalCenter, Direction: contract.Down, Label: "c", Anchor: a, Iterations: 1, HintRatio: 1}, contract.ErrConfiguration},
		{"nil-guide", Spec{Kind: VerticalCenter, Direction: contract.Down, Label: "c", Anchor: a, Iterations: 1, HintRatio: 0.2,
			LeftGuide: []*image.RGBA{nil}, RightGuide: []*image.RGBA{a}}, contract.ErrInsufficientGuidance},
		{"unknown-kind", Spec{Kind: Kind(9), Direction: contract.Left, Anchor: a}, contract.ErrInvariantViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.spec.Validate(), tc.want)
		})
	}
	// 中心列 0 次迭代不需要引导
	assert.NoError(t, Spec{Kind: VerticalCenter, Direction: contract.Down, Label: "c", Anchor: a}.Validate())
}

func TestChainAbortsOnSynthesisFailure(t *testing.T) {
	syn, sink := &echo{failOn: 2}, &memSink{}
	e := New(syn, prompt.Default(), sink, nil)
	tiles, err := e.Run(context.Background(), Spec{Kind: Horizontal, Direction: contract.Left, Anchor: solid(9, 9, green), Iterations: 3})
	assert.ErrorIs(t, err, contract.ErrSynthesisFailure)
	assert.Nil(t, tiles)
	assert.EqualValues(t, 2, syn.calls.Load(), "失败后不再继续迭代")
	// 第一步 4 个工件 + 第二步 context/input
	assert.Len(t, sink.got, 6)
}

func TestChainTraceFailureIsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &memSink{err: errors.New("disk full")}
	e := New(&echo{}, prompt.Default(), sink, diag.NewLoggerWithCore("cid", core))
	tiles, err := e.Run(context.Background(), Spec{Kind: Horizontal, Direction: contract.Right, Anchor: solid(9, 9, green), Iterations: 1})
	require.NoError(t, err)
	assert.Len(t, tiles, 1)
	assert.Equal(t, 4, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestChainCanceled(t *testing.T) {
	syn := &echo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(syn, prompt.Default(), nil, nil).Run(ctx, Spec{Kind: Horizontal, Direction: contract.Right, Anchor: solid(9, 9, green), Iterations: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, syn.calls.Load())
}

func TestStepIDs(t *testing.T) {
	assert.Equal(t, "left_h_03", Spec{Kind: Horizontal, Direction: contract.Left}.StepID(3))
	assert.Equal(t, "right_col_2_up_01", Spec{Kind: VerticalDirect, Direction: contract.Up, Label: "right_col_2"}.StepID(1))
	assert.Equal(t, "center_column_down", Spec{Kind: VerticalCenter, Direction: contract.Down, Label: "center_column"}.Name())
}
