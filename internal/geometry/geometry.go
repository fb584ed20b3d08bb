// Package geometry 提供瓦片三等分滑动、切带与对角边缘提示注入的纯函数。
// 所有函数不修改入参，返回新分配、原点为 (0,0) 的 *image.RGBA。
package geometry

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"tilext/pkg/contract"
)

// Thirds 返回长度 n 的三等分边界 a=n/3、b=2n/3（整除）。
// n<3 时边界退化，返回 ErrInvalidGeometry；n>=3 时恒有 0<a<b<n。
func Thirds(n int) (a, b int, err error) {
	if n < 3 {
		return 0, 0, fmt.Errorf("%w: dimension %d < 3", contract.ErrInvalidGeometry, n)
	}
	return n / 3, (2 * n) / 3, nil
}

// BlankSpan 返回 Slide 在轴长 n 上留出的空白区间 [lo, hi)。
// - 向末端（右/下）扩展：[n-a, n)
// - 向原点（左/上）扩展：[0, n-b)
func BlankSpan(n int, d contract.Direction) (lo, hi int, err error) {
	if !d.Valid() {
		return 0, 0, fmt.Errorf("%w: direction %v", contract.ErrInvariantViolation, d)
	}
	a, b, err := Thirds(n)
	if err != nil {
		return 0, 0, err
	}
	if d.TowardEnd() {
		return n - a, n, nil
	}
	return 0, n - b, nil
}

// Slide 沿 d 的轴把瓦片三等分，丢弃离 d 最远的一段，其余两段向反方向平移，空出的一段填白。
// 输出尺寸与输入一致。
func Slide(src image.Image, d contract.Direction) (*image.RGBA, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: direction %v", contract.ErrInvariantViolation, d)
	}
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	n := axisLen(w, h, d.Axis())
	a, b, err := Thirds(n)
	if err != nil {
		return nil, err
	}
	out := Blank(w, h)
	// keep: 源区间；at: 目标起点
	var keepLo, keepHi, at int
	if d.TowardEnd() {
		keepLo, keepHi, at = a, n, 0
	} else {
		keepLo, keepHi, at = 0, b, n-b
	}
	var dst image.Rectangle
	var sp image.Point
	if d.Axis() == contract.Horizontal {
		dst = image.Rect(at, 0, at+keepHi-keepLo, h)
		sp = image.Pt(sb.Min.X+keepLo, sb.Min.Y)
	} else {
		dst = image.Rect(0, at, w, at+keepHi-keepLo)
		sp = image.Pt(sb.Min.X, sb.Min.Y+keepLo)
	}
	draw.Draw(out, dst, src, sp, draw.Src)
	return out, nil
}

// ExtractBand 返回合成结果中紧邻新填充边缘的三分之一带。
// - 右/下：[b, n)
// - 左/上：[0, a)
func ExtractBand(src image.Image, d contract.Direction) (*image.RGBA, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: direction %v", contract.ErrInvariantViolation, d)
	}
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	n := axisLen(w, h, d.Axis())
	a, b, err := Thirds(n)
	if err != nil {
		return nil, err
	}
	lo, hi := 0, a
	if d.TowardEnd() {
		lo, hi = b, n
	}
	var r image.Rectangle
	if d.Axis() == contract.Horizontal {
		r = image.Rect(sb.Min.X+lo, sb.Min.Y, sb.Min.X+hi, sb.Max.Y)
	} else {
		r = image.Rect(sb.Min.X, sb.Min.Y+lo, sb.Max.X, sb.Min.Y+hi)
	}
	return Crop(src, r), nil
}

// InjectEdgeHints 把左右邻居的内侧竖条贴入竖直方向帧的空白带。
// 规则：
// - 仅接受上/下方向；ratio 必须在 (0,1)；
// - 条宽 = max(1, round(ratio×W))，且不超过帧宽与邻居宽；
// - 左邻取其最右侧条，贴到 x=0；右邻取其最左侧条，贴到 x=W-条宽；
// - 条带取邻居全高，高度不同则平滑缩放至空白带高度；
// - 两侧均为 nil 时原样返回 frame。
func InjectEdgeHints(frame *image.RGBA, d contract.Direction, left, right image.Image, ratio float64) (*image.RGBA, error) {
	if !d.Valid() || d.Axis() != contract.Vertical {
		return nil, fmt.Errorf("%w: edge hints require a vertical direction, got %v", contract.ErrInvariantViolation, d)
	}
	if !(ratio > 0 && ratio < 1) {
		return nil, fmt.Errorf("%w: hint ratio %v outside (0,1)", contract.ErrConfiguration, ratio)
	}
	if left == nil && right == nil {
		return frame, nil
	}
	fb := frame.Bounds()
	w, h := fb.Dx(), fb.Dy()
	lo, hi, err := BlankSpan(h, d)
	if err != nil {
		return nil, err
	}
	hintW := HintWidth(w, ratio)
	out := Clone(frame)
	paste := func(nb image.Image, fromRight bool, x int) {
		b := nb.Bounds()
		sw := hintW
		if sw > b.Dx() {
			sw = b.Dx()
		}
		var sr image.Rectangle
		if fromRight {
			sr = image.Rect(b.Max.X-sw, b.Min.Y, b.Max.X, b.Max.Y)
		} else {
			sr = image.Rect(b.Min.X, b.Min.Y, b.Min.X+sw, b.Max.Y)
		}
		dr := image.Rect(x, lo, x+hintW, hi)
		if sr.Dx() == dr.Dx() && sr.Dy() == dr.Dy() {
			draw.Draw(out, dr, nb, sr.Min, draw.Src)
			return
		}
		draw.CatmullRom.Scale(out, dr, nb, sr, draw.Src, nil)
	}
	if left != nil {
		paste(left, true, 0)
	}
	if right != nil {
		paste(right, false, w-hintW)
	}
	return out, nil
}

// HintWidth 计算提示条宽度：round(ratio×w)，下限 1，上限 w。
func HintWidth(w int, ratio float64) int {
	hw := int(math.Round(ratio * float64(w)))
	if hw < 1 {
		hw = 1
	}
	if hw > w {
		hw = w
	}
	return hw
}

// Resize 平滑缩放到 w×h；尺寸一致时返回副本。
func Resize(src image.Image, w, h int) *image.RGBA {
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		return Clone(src)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), src, sb, draw.Src, nil)
	return out
}

// Blank 返回 w×h 的纯白不透明瓦片。
func Blank(w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return out
}

// Clone 复制任意图像为原点对齐的 RGBA。
func Clone(src image.Image) *image.RGBA {
	sb := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	draw.Draw(out, out.Bounds(), src, sb.Min, draw.Src)
	return out
}

// Crop 复制 src 中 r（源坐标）区域为原点对齐的 RGBA。
func Crop(src image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(src.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out
}

func axisLen(w, h int, ax contract.Axis) int {
	if ax == contract.Horizontal {
		return w
	}
	return h
}
