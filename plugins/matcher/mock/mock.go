// Package mock 提供确定性的测试用匹配器：按配额以行优先顺序条带式填充，不使用随机数。
package mock

import (
	"context"
	"sync/atomic"

	"lctcache/pkg/contract"
	"lctcache/plugins/matcher/nlm"
)

// Options: 调试配置（可选）。
type Options struct {
	// Offset: 加到每个输出编码上的偏移；非 0 时可制造无法规范化的编码（失败路径测试用）。
	Offset int `yaml:"offset"`
}

// Matcher 按全景目标配额填充；忽略林线与种子。
type Matcher struct {
	offset int
	calls  atomic.Int64
}

// New 构造 Matcher。
func New(opts *Options) (*Matcher, error) {
	m := &Matcher{}
	if opts != nil {
		m.offset = opts.Offset
	}
	return m, nil
}

var _ contract.Matcher = (*Matcher)(nil)

func (m *Matcher) Match(ctx context.Context, dem contract.Elevation, req contract.MatchRequest) (contract.Landscape, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return contract.Landscape{}, err
	}
	if err := req.Validate(); err != nil {
		return contract.Landscape{}, err
	}
	if err := dem.Validate(); err != nil {
		return contract.Landscape{}, err
	}
	cells := make([]int, 0, len(dem.Values))
	for code, n := range nlm.Quotas(req.Proportions, len(dem.Values)) {
		for j := 0; j < n; j++ {
			cells = append(cells, code+m.offset)
		}
	}
	return contract.Landscape{Rows: dem.Rows, Cols: dem.Cols, Cells: cells, Geo: dem.Geo}, nil
}

// Calls 返回 Match 被调用的次数。
func (m *Matcher) Calls() int { return int(m.calls.Load()) }
