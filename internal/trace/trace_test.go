package trace

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilext/pkg/contract"
)

type memWriter struct {
	mu  sync.Mutex
	got map[contract.ArtifactID][]byte
	err error
}

func (m *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.got == nil {
		m.got = map[contract.ArtifactID][]byte{}
	}
	m.got[id] = b
	return nil
}

func tile() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, 6, 6)) }

func TestRecorderSaveLayout(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w)
	ctx := context.Background()
	require.NoError(t, r.Save(ctx, "right_h_01", "context", tile(), contract.PNG))
	require.NoError(t, r.Save(ctx, "right_h_01", "result", tile(), contract.JPEG))

	png := w.got["right_h_01/context.png"]
	require.NotEmpty(t, png)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "应为 PNG")
	jpg := w.got["right_h_01/result.jpg"]
	require.NotEmpty(t, jpg)
	assert.True(t, bytes.HasPrefix(jpg, []byte{0xFF, 0xD8}), "应为 JPEG")
	assert.Equal(t, 2, r.Len())
}

func TestRecorderWriteOnce(t *testing.T) {
	r := NewRecorder(&memWriter{})
	ctx := context.Background()
	require.NoError(t, r.Save(ctx, "seed", "seed", tile(), contract.PNG))
	err := r.Save(ctx, "seed", "seed", tile(), contract.PNG)
	assert.ErrorIs(t, err, contract.ErrInvariantViolation)
	// 同名不同格式视为不同工件
	assert.NoError(t, r.Save(ctx, "seed", "seed", tile(), contract.JPEG))
}

func TestRecorderInvalidInput(t *testing.T) {
	r := NewRecorder(&memWriter{})
	assert.ErrorIs(t, r.Save(context.Background(), "", "x", tile(), contract.PNG), contract.ErrInvalidInput)
	assert.ErrorIs(t, r.Save(context.Background(), "s", "x", nil, contract.PNG), contract.ErrInvalidInput)
}

func TestRecorderWriterError(t *testing.T) {
	boom := errors.New("disk full")
	r := NewRecorder(&memWriter{err: boom})
	assert.ErrorIs(t, r.Save(context.Background(), "s", "x", tile(), contract.PNG), boom)
}

func TestRecorderConcurrent(t *testing.T) {
	w := &memWriter{}
	r := NewRecorder(w)
	var wg sync.WaitGroup
	for _, step := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(s string) {
			defer wg.Done()
			assert.NoError(t, r.Save(context.Background(), s, "input", tile(), contract.PNG))
		}(step)
	}
	wg.Wait()
	assert.Len(t, w.got, 4)
}

func TestNilAndNop(t *testing.T) {
	var r *Recorder
	assert.NoError(t, r.Save(context.Background(), "s", "x", tile(), contract.PNG))
	assert.NoError(t, NewRecorder(nil).Save(context.Background(), "s", "x", tile(), contract.PNG))
	assert.NoError(t, Nop().Save(context.Background(), "s", "x", tile(), contract.PNG))
}
