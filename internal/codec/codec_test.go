package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilext/pkg/contract"
)

func TestToTileFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(3, 3, 7, 5))
	src.SetNRGBA(3, 3, color.NRGBA{0, 0, 0, 0})
	src.SetNRGBA(4, 3, color.NRGBA{10, 20, 30, 255})
	out := ToTile(src)
	assert.Equal(t, image.Rect(0, 0, 4, 2), out.Bounds())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 0), "透明像素应落在白底上")
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, out.RGBAAt(1, 0))
}

func TestEncodeDecodeRoundTripPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 5, 5))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 1, 2, 3, 255
	}
	b, err := EncodeBytes(src, contract.PNG)
	require.NoError(t, err)
	got, err := DecodeBytes(b)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)

	_, err = EncodeBytes(src, contract.Format("gif"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeBytes([]byte("not an image"))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFile(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, contract.ErrConfiguration)

	p := filepath.Join(dir, "seed.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 6, 6))))
	require.NoError(t, f.Close())
	tile, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 6), tile.Bounds())
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, contract.JPEG, FormatForPath("out/grid.JPG"))
	assert.Equal(t, contract.JPEG, FormatForPath("a.jpeg"))
	assert.Equal(t, contract.PNG, FormatForPath("a.png"))
	assert.Equal(t, contract.PNG, FormatForPath("noext"))
}

type memWriter struct {
	got map[contract.ArtifactID][]byte
}

func (m *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.got == nil {
		m.got = map[contract.ArtifactID][]byte{}
	}
	m.got[id] = b
	return nil
}

func TestWriteImageJPEG(t *testing.T) {
	w := &memWriter{}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, WriteImage(context.Background(), w, "s/r.jpg", img, contract.JPEG))
	b := w.got["s/r.jpg"]
	require.NotEmpty(t, b)
	assert.True(t, bytes.HasPrefix(b, []byte{0xFF, 0xD8}), "应为 JPEG SOI")
}
