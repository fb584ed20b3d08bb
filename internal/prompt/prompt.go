// Package prompt 维护方向 → 补全提示词的查找表。
package prompt

import (
	"fmt"
	"strings"

	"tilext/pkg/contract"
)

var defaults = map[contract.Direction]string{
	contract.Right: "fill in the blank area on the right",
	contract.Left:  "fill in the blank area on the left",
	contract.Up:    "fill in the blank area on the top",
	contract.Down:  "fill in the blank area on the bottom",
}

// Table: 不可变的方向提示词表。
type Table struct {
	m map[contract.Direction]string
}

// Default 返回内置提示词表。
func Default() Table {
	t, _ := NewTable(nil)
	return t
}

// NewTable 在内置表上叠加覆盖项；键为方向名（left|right|up|down）。
// 规则：
// - 未知方向名返回 ErrConfiguration；
// - 空白值视为未覆盖。
func NewTable(over map[string]string) (Table, error) {
	m := make(map[contract.Direction]string, len(defaults))
	for d, p := range defaults {
		m[d] = p
	}
	for k, v := range over {
		d, err := contract.ParseDirection(k)
		if err != nil {
			return Table{}, fmt.Errorf("prompt: %w", err)
		}
		if s := strings.TrimSpace(v); s != "" {
			m[d] = s
		}
	}
	return Table{m: m}, nil
}

// For 返回方向对应的提示词。
func (t Table) For(d contract.Direction) (string, error) {
	p, ok := t.m[d]
	if !ok {
		return "", fmt.Errorf("%w: no prompt for direction %v", contract.ErrInvariantViolation, d)
	}
	return p, nil
}

// IsZero 报告是否为未初始化的零值表。
func (t Table) IsZero() bool { return t.m == nil }
