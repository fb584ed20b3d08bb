// Package grid 维护稀疏瓦片网格（列向右、行向上递增，种子位于 (0,0)）并将其拼接为整幅画布。
package grid

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"tilext/pkg/contract"
)

// Coord: 网格坐标。
type Coord struct {
	Col int
	Row int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Col, c.Row) }

// Step 返回沿 d 前进 k 格后的坐标。
func (c Coord) Step(d contract.Direction, k int) Coord {
	dc, dr := d.Step()
	return Coord{Col: c.Col + dc*k, Row: c.Row + dr*k}
}

// Grid: 并发安全的稀疏映射 Coord→瓦片。
// 不变量：
// - 非空（构造即放入种子）；
// - 所有瓦片尺寸一致；
// - 只增不改：已占用坐标不可覆盖。
type Grid struct {
	mu    sync.RWMutex
	size  image.Point
	tiles map[Coord]*image.RGBA
}

// New 以种子瓦片构造网格（种子位于原点）。
func New(seed *image.RGBA) (*Grid, error) {
	if seed == nil {
		return nil, fmt.Errorf("%w: nil seed", contract.ErrInvariantViolation)
	}
	sz := seed.Bounds().Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return nil, fmt.Errorf("%w: empty seed %v", contract.ErrInvariantViolation, sz)
	}
	return &Grid{size: sz, tiles: map[Coord]*image.RGBA{{}: seed}}, nil
}

// Put 放入一块新瓦片；坐标已占用或尺寸不符时返回 ErrInvariantViolation。
func (g *Grid) Put(c Coord, tile *image.RGBA) error {
	if tile == nil {
		return fmt.Errorf("%w: nil tile at %v", contract.ErrInvariantViolation, c)
	}
	if sz := tile.Bounds().Size(); sz != g.size {
		return fmt.Errorf("%w: tile %v at %v, want %v", contract.ErrInvariantViolation, sz, c, g.size)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tiles[c]; ok {
		return fmt.Errorf("%w: coordinate %v already occupied", contract.ErrInvariantViolation, c)
	}
	g.tiles[c] = tile
	return nil
}

// Get 读取瓦片。
func (g *Grid) Get(c Coord) (*image.RGBA, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tiles[c]
	return t, ok
}

// Len 返回已占用坐标数。
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tiles)
}

// TileSize 返回统一瓦片尺寸。
func (g *Grid) TileSize() image.Point { return g.size }

// Coords 返回按 (Row 降序, Col 升序) 排列的坐标，即画布自上而下、自左而右。
func (g *Grid) Coords() []Coord {
	g.mu.RLock()
	out := make([]Coord, 0, len(g.tiles))
	for c := range g.tiles {
		out = append(out, c)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row > out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// Bounds 返回坐标包围盒（闭区间）。
func (g *Grid) Bounds() (minCol, maxCol, minRow, maxRow int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	first := true
	for c := range g.tiles {
		if first {
			minCol, maxCol, minRow, maxRow = c.Col, c.Col, c.Row, c.Row
			first = false
			continue
		}
		minCol = min(minCol, c.Col)
		maxCol = max(maxCol, c.Col)
		minRow = min(minRow, c.Row)
		maxRow = max(maxRow, c.Row)
	}
	return
}
