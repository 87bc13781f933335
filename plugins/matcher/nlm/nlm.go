// Package nlm 是默认的景观匹配器：按高程分区做配额随机填充，
// 再以保持计数的交换迭代聚合同类像元，得到成片的中性景观。
//
// 分区与配额：
//   - 无林线：全部像元一个分区，配额来自全景目标；
//   - 有林线：高程 ≥ 林线的有效像元为高地，其余（含无数据像元）为低地；
//     高地配额来自高地比例，低地比例由 (T·N − U·nU) / nL 反推，负值截断为 0 后重新归一。
//
// 每个分区的配额用最大余数法取整，因此分区内计数与目标的偏差小于 1 个像元；
// 低地反推发生截断时，全景比例只能近似目标。
package nlm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"lctcache/pkg/contract"
)

// Connectivity: 邻域类型。
type Connectivity string

const (
	Conn4 Connectivity = "conn4"
	Conn8 Connectivity = "conn8"
)

// Options 为可选配置。
type Options struct {
	// Connectivity: "conn4"（默认）或 "conn8"。
	Connectivity Connectivity `yaml:"connectivity"`
	// SwapFraction: 每轮迭代尝试的交换次数占分区像元数的比例，默认 0.25。
	SwapFraction float64 `yaml:"swap_fraction"`
}

// Matcher 实现 contract.Matcher；无状态，可并发使用。
type Matcher struct {
	offsets  [][2]int
	swapFrac float64
}

// New 创建匹配器。
func New(opts *Options) (*Matcher, error) {
	m := &Matcher{offsets: offsets4, swapFrac: 0.25}
	if opts == nil {
		return m, nil
	}
	switch opts.Connectivity {
	case "", Conn4:
	case Conn8:
		m.offsets = offsets8
	default:
		return nil, fmt.Errorf("%w: connectivity %q (want conn4 or conn8)", contract.ErrInvalidInput, opts.Connectivity)
	}
	if opts.SwapFraction != 0 {
		if opts.SwapFraction < 0 || opts.SwapFraction > 10 || math.IsNaN(opts.SwapFraction) {
			return nil, fmt.Errorf("%w: swap_fraction %g outside (0,10]", contract.ErrInvalidInput, opts.SwapFraction)
		}
		m.swapFrac = opts.SwapFraction
	}
	return m, nil
}

// {dx, dy}：与网格图遍历相同的邻域偏移表。
var (
	offsets4 = [][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
	offsets8 = [][2]int{{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}
)

var _ contract.Matcher = (*Matcher)(nil)

// Match 生成一个候选景观（临时编码 0..len(Proportions)-1）。
func (m *Matcher) Match(ctx context.Context, dem contract.Elevation, req contract.MatchRequest) (contract.Landscape, error) {
	if err := req.Validate(); err != nil {
		return contract.Landscape{}, err
	}
	if err := dem.Validate(); err != nil {
		return contract.Landscape{}, err
	}
	rng := rand.New(rand.NewPCG(uint64(req.Seed), 0x9e3779b97f4a7c15))

	zones := Zones(dem, req.Treeline)
	cells := make([]int, len(dem.Values))
	for z, idx := range zones {
		if len(idx) == 0 {
			continue
		}
		props := req.Proportions
		if req.Treeline != nil {
			if z == upland {
				props = req.Upland
			} else {
				props = LowlandMix(req.Proportions, req.Upland, len(dem.Values), len(zones[upland]))
			}
		}
		fillZone(cells, idx, Quotas(props, len(idx)), rng)
	}

	for it := 0; it < req.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return contract.Landscape{}, err
		}
		for _, idx := range zones {
			m.refine(cells, dem.Cols, idx, rng)
		}
	}
	return contract.Landscape{Rows: dem.Rows, Cols: dem.Cols, Cells: cells, Geo: dem.Geo}, nil
}

const (
	lowland = 0
	upland  = 1
)

// Zones 返回 [低地, 高地] 两个分区的像元下标（升序）。treeline 为 nil 时全部归入低地。
func Zones(dem contract.Elevation, treeline *float64) [2][]int {
	var z [2][]int
	for i, v := range dem.Values {
		if treeline != nil && !dem.IsNoData(i) && v >= *treeline {
			z[upland] = append(z[upland], i)
		} else {
			z[lowland] = append(z[lowland], i)
		}
	}
	return z
}

// LowlandMix 由全景目标与高地组成反推低地组成。
// total/up 按同一顺序；n 为总像元数，nUp 为高地像元数。
func LowlandMix(total, up []float64, n, nUp int) []float64 {
	nLow := n - nUp
	out := make([]float64, len(total))
	if nLow <= 0 {
		return out
	}
	sum := 0.0
	for k := range total {
		v := (total[k]*float64(n) - up[k]*float64(nUp)) / float64(nLow)
		if v < 0 {
			v = 0
		}
		out[k] = v
		sum += v
	}
	if sum <= 0 {
		copy(out, total)
		return out
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// Quotas 以最大余数法把比例分配为整数计数，计数之和恰为 n。
// 余数相同者按下标升序优先。
func Quotas(props []float64, n int) []int {
	q := make([]int, len(props))
	if n <= 0 || len(props) == 0 {
		return q
	}
	sum := 0.0
	for _, p := range props {
		if p > 0 {
			sum += p
		}
	}
	if sum <= 0 {
		q[0] = n
		return q
	}
	type rem struct {
		k int
		r float64
	}
	rems := make([]rem, len(props))
	used := 0
	for k, p := range props {
		if p < 0 {
			p = 0
		}
		exact := p / sum * float64(n)
		q[k] = int(math.Floor(exact))
		used += q[k]
		rems[k] = rem{k, exact - float64(q[k])}
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for i := 0; used < n; i++ {
		q[rems[i%len(rems)].k]++
		used++
	}
	return q
}

func fillZone(cells, idx, quota []int, rng *rand.Rand) {
	codes := make([]int, 0, len(idx))
	for code, c := range quota {
		for j := 0; j < c; j++ {
			codes = append(codes, code)
		}
	}
	rng.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })
	for j, i := range idx {
		cells[i] = codes[j]
	}
}

// refine 在分区内随机交换两个异类像元；同类邻居数增加则保留，否则撤销。
func (m *Matcher) refine(cells []int, cols int, idx []int, rng *rand.Rand) {
	if len(idx) < 2 {
		return
	}
	tries := int(m.swapFrac * float64(len(idx)))
	if tries < 1 {
		tries = 1
	}
	rows := len(cells) / cols
	for t := 0; t < tries; t++ {
		a := idx[rng.IntN(len(idx))]
		b := idx[rng.IntN(len(idx))]
		if cells[a] == cells[b] {
			continue
		}
		before := m.like(cells, rows, cols, a) + m.like(cells, rows, cols, b)
		cells[a], cells[b] = cells[b], cells[a]
		after := m.like(cells, rows, cols, a) + m.like(cells, rows, cols, b)
		if after <= before {
			cells[a], cells[b] = cells[b], cells[a]
		}
	}
}

// like 返回 i 的同类邻居数。
func (m *Matcher) like(cells []int, rows, cols, i int) int {
	x, y := i%cols, i/cols
	n := 0
	for _, d := range m.offsets {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || nx >= cols || ny < 0 || ny >= rows {
			continue
		}
		if cells[ny*cols+nx] == cells[i] {
			n++
		}
	}
	return n
}
