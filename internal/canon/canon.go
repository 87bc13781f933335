// Package canon 将匹配器的临时编码重写为规范地类编码。
package canon

import (
	"fmt"
	"sort"

	"lctcache/pkg/contract"
)

// CodeMap: 临时编码 → 规范编码。
type CodeMap map[int]int

// NewCodeMap 依据有序词表构造映射 {i: canonical(names[i])}。
// 名称重复或目标编码重复（非单射）均失败。
func NewCodeMap(names []contract.LctName) (CodeMap, error) {
	m := make(CodeMap, len(names))
	used := make(map[contract.LctCode]contract.LctName, len(names))
	for i, n := range names {
		c, err := n.Canonical()
		if err != nil {
			return nil, err
		}
		if prev, dup := used[c]; dup {
			return nil, fmt.Errorf("%w: %q and %q both map to %s", contract.ErrCodeMap, prev, n, c)
		}
		used[c] = n
		m[i] = int(c)
	}
	return m, nil
}

// Inverse 返回逆映射；非单射时失败。
func (m CodeMap) Inverse() (CodeMap, error) {
	inv := make(CodeMap, len(m))
	for k, v := range m {
		if _, dup := inv[v]; dup {
			return nil, fmt.Errorf("%w: code %d has more than one source", contract.ErrCodeMap, v)
		}
		inv[v] = k
	}
	return inv, nil
}

// Remap 按 m 重写每个像元，返回新景观；输入不变，尺寸与地理参照不变。
// [min, max] 区间内任一取值不是 m 的键即失败（*CodeMapError 列出全部缺失值），
// 即使该值未出现在网格中。
func Remap(l contract.Landscape, m CodeMap) (contract.Landscape, error) {
	if err := l.Validate(); err != nil {
		return contract.Landscape{}, err
	}
	lo, hi, _ := l.MinMax()
	var missing []int
	for v := lo; v <= hi; v++ {
		if _, ok := m[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return contract.Landscape{}, &contract.CodeMapError{Missing: missing, Min: lo, Max: hi}
	}
	out := contract.Landscape{Rows: l.Rows, Cols: l.Cols, Cells: make([]int, len(l.Cells)), Geo: l.Geo}
	for i, v := range l.Cells {
		out.Cells[i] = m[v]
	}
	return out, nil
}

// Canonicalize = Remap(l, NewCodeMap(names))。
func Canonicalize(l contract.Landscape, names []contract.LctName) (contract.Landscape, error) {
	m, err := NewCodeMap(names)
	if err != nil {
		return contract.Landscape{}, err
	}
	return Remap(l, m)
}
