package grid

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"tilext/internal/geometry"
	"tilext/pkg/contract"
)

// Stitch 将网格渲染为单张画布。
// - 画布尺寸 = (列跨度×W, 行跨度×H)，白底；
// - 瓦片像素位置 = ((col-minCol)×W, (maxRow-row)×H)（行轴翻转）；
// - 包围盒内缺失的格子保留白底，不做补全；
// - 按固定坐标顺序绘制，相同输入产出逐字节相同的画布。
func Stitch(g *Grid) (*image.RGBA, error) {
	if g == nil || g.Len() == 0 {
		return nil, fmt.Errorf("%w: empty grid", contract.ErrInvariantViolation)
	}
	minCol, maxCol, minRow, maxRow := g.Bounds()
	sz := g.TileSize()
	cols, rows := maxCol-minCol+1, maxRow-minRow+1
	canvas := geometry.Blank(cols*sz.X, rows*sz.Y)
	for _, c := range g.Coords() {
		tile, _ := g.Get(c)
		at := image.Pt((c.Col-minCol)*sz.X, (maxRow-c.Row)*sz.Y)
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(sz)}, tile, tile.Bounds().Min, draw.Src)
	}
	return canvas, nil
}
