package geometry

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"tilext/pkg/contract"
)

// Compass: 等距视角下的四个填充方位（预览用，不参与主流水线）。
type Compass int

const (
	East Compass = iota + 1
	South
	West
	North
)

var compassNames = map[Compass]string{East: "east", South: "south", West: "west", North: "north"}

// Compasses 返回固定顺序的全部方位。
func Compasses() []Compass { return []Compass{East, South, West, North} }

func (c Compass) String() string {
	if s, ok := compassNames[c]; ok {
		return s
	}
	return fmt.Sprintf("compass(%d)", int(c))
}

// ParseCompass 解析方位名称（大小写不敏感）。
func ParseCompass(s string) (Compass, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for c, name := range compassNames {
		if name == n {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown compass %q", contract.ErrConfiguration, s)
}

// 等距斜率：水平每前进 1，竖直下降 isoRatio。
const isoRatio = 0.5

// ZoneOutline: 填充区描边颜色。
var ZoneOutline = color.NRGBA{R: 180, G: 200, B: 255, A: 180}

// FillZones 计算 w×h 瓦片四个方位的等距填充多边形（顶点按顺时针）。
// 带宽取 round(w/3)、round(h/3)，下限 1。
func FillZones(w, h int) map[Compass][]image.Point {
	bw := maxInt(1, int(math.Round(float64(w)/3)))
	bh := maxInt(1, int(math.Round(float64(h)/3)))
	iso := int(math.Round(clampF(float64(bw)*isoRatio, 0, float64(h))))
	slant := int(math.Round(clampF(float64(bh)/isoRatio, 0, float64(w))))
	return map[Compass][]image.Point{
		East:  {{w - bw, iso}, {w, 0}, {w, h}, {w - bw, h - iso}},
		West:  {{0, 0}, {bw, iso}, {bw, h - iso}, {0, h}},
		North: {{0, 0}, {w, 0}, {w - slant, bh}, {slant, bh}},
		South: {{slant, h - bh}, {w - slant, h - bh}, {w, h}, {0, h}},
	}
}

// PaintZone 在 tile 副本上以白色填充多边形并描边，返回新瓦片。
// 描边宽度为 max(1, W/200)。
func PaintZone(tile image.Image, poly []image.Point) (*image.RGBA, error) {
	if len(poly) < 3 {
		return nil, fmt.Errorf("%w: polygon needs >= 3 points", contract.ErrInvalidGeometry)
	}
	out := Clone(tile)
	b := out.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(float32(poly[0].X), float32(poly[0].Y))
	for _, p := range poly[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
	z.Draw(out, b, image.NewUniform(color.White), image.Point{})

	lw := float32(maxInt(1, b.Dx()/200))
	for i := range poly {
		p, q := poly[i], poly[(i+1)%len(poly)]
		strokeSegment(out, p, q, lw)
	}
	return out, nil
}

// strokeSegment 以矩形条近似绘制线段 p→q（宽 lw，半透明叠加）。
func strokeSegment(dst *image.RGBA, p, q image.Point, lw float32) {
	dx, dy := float32(q.X-p.X), float32(q.Y-p.Y)
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	// 法向半宽
	nx, ny := -dy/l*lw/2, dx/l*lw/2
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	z.MoveTo(float32(p.X)+nx, float32(p.Y)+ny)
	z.LineTo(float32(q.X)+nx, float32(q.Y)+ny)
	z.LineTo(float32(q.X)-nx, float32(q.Y)-ny)
	z.LineTo(float32(p.X)-nx, float32(p.Y)-ny)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(ZoneOutline), image.Point{})
}

func clampF(v, lo, hi float64) float64 { return math.Max(math.Min(v, hi), lo) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
