// Package stratify 构造林线分层目标。
//
// 本包只校验林线与高地比例的成对约束，不求解高地/低地比例拆分；
// 低地组成由匹配器依据全景目标反推。
package stratify

import (
	"fmt"

	"lctcache/pkg/contract"
)

// Stratify 返回分层目标。
//   - treeline 与 upland 均为 nil：不分层，返回 (nil, nil)；
//   - 仅其一为 nil：配置错误（ErrConfig）；
//   - 均给出：返回携带 total 与 upland 的目标。
func Stratify(total contract.ProportionRecord, treeline *int, upland *contract.ProportionRecord) (*contract.StratifiedTarget, error) {
	switch {
	case treeline == nil && upland == nil:
		return nil, nil
	case treeline == nil:
		return nil, fmt.Errorf("%w: upland proportions given without a treeline", contract.ErrConfig)
	case upland == nil:
		return nil, fmt.Errorf("%w: treeline %d m given without upland proportions", contract.ErrConfig, *treeline)
	}
	if total.IsZero() {
		return nil, fmt.Errorf("%w: stratified target has no total proportions", contract.ErrConfig)
	}
	if upland.IsZero() {
		return nil, fmt.Errorf("%w: upland proportions are empty", contract.ErrConfig)
	}
	return &contract.StratifiedTarget{Treeline: *treeline, Upland: *upland, Total: total}, nil
}

// Request 将（可能分层的）目标转换为匹配请求；iterations/seed 原样透传。
func Request(total contract.ProportionRecord, st *contract.StratifiedTarget, iterations int, seed int64) contract.MatchRequest {
	req := contract.MatchRequest{
		Proportions: total.Ordered(),
		Iterations:  iterations,
		Seed:        seed,
	}
	if st != nil {
		tl := float64(st.Treeline)
		req.Treeline = &tl
		req.Upland = st.Upland.Ordered()
	}
	return req
}
