package contract

import (
	"fmt"
	"strings"
)

// Axis: 滑动/切带所沿的轴。
type Axis int

const (
	Horizontal Axis = iota
	Vertical
)

func (a Axis) String() string {
	switch a {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Direction: 扩展方向（闭集）。零值非法。
type Direction int

const (
	Left Direction = iota + 1
	Right
	Up
	Down
)

// dirInfo: 方向查找表条目。
// - Step 为网格坐标增量（行向上为正）；
// - TowardEnd 表示新内容出现在画布坐标增大的一侧（右/下）。
type dirInfo struct {
	name      string
	axis      Axis
	stepCol   int
	stepRow   int
	towardEnd bool
}

var directions = map[Direction]dirInfo{
	Left:  {name: "left", axis: Horizontal, stepCol: -1, stepRow: 0, towardEnd: false},
	Right: {name: "right", axis: Horizontal, stepCol: 1, stepRow: 0, towardEnd: true},
	Up:    {name: "up", axis: Vertical, stepCol: 0, stepRow: 1, towardEnd: false},
	Down:  {name: "down", axis: Vertical, stepCol: 0, stepRow: -1, towardEnd: true},
}

// Directions 返回全部合法方向（固定顺序）。
func Directions() []Direction { return []Direction{Left, Right, Up, Down} }

// Valid 报告 d 是否属于闭集。
func (d Direction) Valid() bool { _, ok := directions[d]; return ok }

func (d Direction) String() string {
	if in, ok := directions[d]; ok {
		return in.name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Axis 返回方向所在轴；非法方向返回 Horizontal（调用方应先 Valid）。
func (d Direction) Axis() Axis { return directions[d].axis }

// Step 返回沿该方向前进一格的网格坐标增量。
func (d Direction) Step() (dc, dr int) {
	in := directions[d]
	return in.stepCol, in.stepRow
}

// TowardEnd: 新内容位于画布轴的末端（右/下）时为 true。
func (d Direction) TowardEnd() bool { return directions[d].towardEnd }

// ParseDirection 将名称解析为方向（大小写不敏感）。未知名称返回 ErrConfiguration。
func ParseDirection(s string) (Direction, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for d, in := range directions {
		if in.name == n {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrConfiguration, s)
}

// MarshalText 以名称形式编码（用于 JSON map 键）。
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: invalid direction %d", ErrInvariantViolation, int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText 解析名称。
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
