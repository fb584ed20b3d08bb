package synth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tilext/internal/diag"
	"tilext/internal/rate"
	"tilext/pkg/contract"
)

type backendFunc func(ctx context.Context, req contract.SynthRequest) (image.Image, error)

func (f backendFunc) Synthesize(ctx context.Context, req contract.SynthRequest) (image.Image, error) {
	return f(ctx, req)
}

type upErr struct{}

func (upErr) Error() string           { return "upstream 502" }
func (upErr) UpstreamStatus() int     { return 502 }
func (upErr) UpstreamMessage() string { return "bad gateway" }

func tile(w, h int) *image.RGBA { return image.NewRGBA(image.Rect(0, 0, w, h)) }

func TestAdapterNormalizesResult(t *testing.T) {
	// 后端返回非原点、尺寸不同、带透明度的 NRGBA
	be := backendFunc(func(ctx context.Context, req contract.SynthRequest) (image.Image, error) {
		img := image.NewNRGBA(image.Rect(5, 5, 17, 17))
		for y := 5; y < 17; y++ {
			for x := 5; x < 17; x++ {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 255, 255})
			}
		}
		return img, nil
	})
	a := NewAdapter(be, nil, "", nil)
	out, err := a.Synthesize(context.Background(), "right_h_01", contract.SynthRequest{Image: tile(6, 6), Prompt: "p", Direction: contract.Right})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 6), out.Bounds())
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, out.RGBAAt(3, 3))
}

func TestAdapterWrapsFailures(t *testing.T) {
	cases := map[string]error{
		"rate":     contract.ErrRateLimited,
		"protocol": fmt.Errorf("decode: %w", contract.ErrResponseInvalid),
		"upstream": upErr{},
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			be := backendFunc(func(context.Context, contract.SynthRequest) (image.Image, error) { return nil, cause })
			_, err := NewAdapter(be, nil, "", nil).Synthesize(context.Background(), "s", contract.SynthRequest{Image: tile(3, 3)})
			assert.ErrorIs(t, err, contract.ErrSynthesisFailure)
			assert.True(t, errors.Is(err, cause) || errors.As(err, new(contract.UpstreamError)), "原因应保留在错误链中")
		})
	}
}

func TestAdapterNilResult(t *testing.T) {
	be := backendFunc(func(context.Context, contract.SynthRequest) (image.Image, error) { return nil, nil })
	_, err := NewAdapter(be, nil, "", nil).Synthesize(context.Background(), "s", contract.SynthRequest{Image: tile(3, 3)})
	assert.ErrorIs(t, err, contract.ErrSynthesisFailure)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestAdapterCancelNotWrapped(t *testing.T) {
	be := backendFunc(func(ctx context.Context, _ contract.SynthRequest) (image.Image, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAdapter(be, nil, "", nil).Synthesize(ctx, "s", contract.SynthRequest{Image: tile(3, 3)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, contract.ErrSynthesisFailure)
}

func TestAdapterGateCanceled(t *testing.T) {
	called := false
	be := backendFunc(func(context.Context, contract.SynthRequest) (image.Image, error) {
		called = true
		return tile(3, 3), nil
	})
	g := rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {RPM: 1}})
	require.True(t, g.Try("k"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAdapter(be, g, "k", nil).Synthesize(ctx, "s", contract.SynthRequest{Image: tile(3, 3)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called, "限流未放行时不应调用后端")
}

func TestAdapterLogsUpstream(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lg := diag.NewLoggerWithCore("cid", core)
	be := backendFunc(func(context.Context, contract.SynthRequest) (image.Image, error) { return nil, upErr{} })
	_, err := NewAdapter(be, nil, "", lg).Synthesize(context.Background(), "up_01", contract.SynthRequest{Image: tile(3, 3), Direction: contract.Up})
	require.Error(t, err)
	errs := logs.FilterField(zapcore.Field{Key: "stage", Type: zapcore.StringType, String: "error"}).All()
	require.Len(t, errs, 1)
	ctx := errs[0].ContextMap()
	assert.Equal(t, "synth", ctx["comp"])
	assert.Equal(t, "up_01", ctx["step"])
	kv, ok := ctx["kv"].(map[string]string)
	require.True(t, ok, "kv 应为对象: %#v", ctx["kv"])
	assert.Equal(t, "502", kv["status"])
}

func TestAdapterNoBackend(t *testing.T) {
	_, err := NewAdapter(nil, nil, "", nil).Synthesize(context.Background(), "s", contract.SynthRequest{Image: tile(3, 3)})
	assert.ErrorIs(t, err, contract.ErrConfiguration)
}
