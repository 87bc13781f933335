// Package score 计算候选景观的比例拟合度。
package score

import (
	"fmt"
	"math"
	"sort"

	"lctcache/pkg/contract"
)

// Score 对目标中的每个地类计算 1 − |target − realized|，按名称排序返回。
// realized 为全网格中等于该地类规范编码的像元占比；不区分高地/低地。
// 输入须为规范编码景观。
func Score(l contract.Landscape, targets contract.ProportionRecord) ([]contract.ScoreRecord, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	counts := make(map[int]int)
	for _, v := range l.Cells {
		counts[v]++
	}
	total := float64(len(l.Cells))

	names := append([]contract.LctName(nil), contract.ProportionNames...)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]contract.ScoreRecord, 0, len(names))
	for _, n := range names {
		code, err := n.Canonical()
		if err != nil {
			return nil, err
		}
		tgt := targets.Get(n)
		realized := float64(counts[int(code)]) / total
		s := 1 - math.Abs(tgt-realized)
		if math.IsNaN(s) || s < 0 || s > 1 {
			return nil, fmt.Errorf("%w: score %g for %s outside [0,1] (target=%g realized=%g)",
				contract.ErrInvariantViolation, s, n, tgt, realized)
		}
		out = append(out, contract.ScoreRecord{Code: code, Name: n, Target: tgt, Realized: realized, Score: s})
	}
	return out, nil
}

// Mean 返回各地类得分均值（日志摘要用）；空输入返回 0。
func Mean(rows []contract.ScoreRecord) float64 {
	if len(rows) == 0 {
		return 0
	}
	s := 0.0
	for _, r := range rows {
		s += r.Score
	}
	return s / float64(len(rows))
}
