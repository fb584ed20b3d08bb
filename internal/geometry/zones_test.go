package geometry

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilext/pkg/contract"
)

func TestFillZonesPolygons(t *testing.T) {
	z := FillZones(90, 90)
	// bw=bh=30, iso=15, slant=60
	assert.Equal(t, []image.Point{{60, 15}, {90, 0}, {90, 90}, {60, 75}}, z[East])
	assert.Equal(t, []image.Point{{0, 0}, {30, 15}, {30, 75}, {0, 90}}, z[West])
	assert.Equal(t, []image.Point{{0, 0}, {90, 0}, {30, 30}, {60, 30}}, z[North])
	assert.Equal(t, []image.Point{{60, 60}, {30, 60}, {90, 90}, {0, 90}}, z[South])
	assert.Len(t, z, len(Compasses()))
}

func TestPaintZoneFillsInterior(t *testing.T) {
	tile := solid(90, 90, color.RGBA{20, 30, 40, 255})
	out, err := PaintZone(tile, FillZones(90, 90)[East])
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(80, 45))
	assert.Equal(t, color.RGBA{20, 30, 40, 255}, out.RGBAAt(10, 45))
	assert.Equal(t, color.RGBA{20, 30, 40, 255}, tile.RGBAAt(80, 45), "不应修改入参")

	_, err = PaintZone(tile, []image.Point{{0, 0}, {1, 1}})
	assert.ErrorIs(t, err, contract.ErrInvalidGeometry)
}

func TestParseCompass(t *testing.T) {
	for _, c := range Compasses() {
		got, err := ParseCompass(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompass("left")
	assert.ErrorIs(t, err, contract.ErrConfiguration)
}
