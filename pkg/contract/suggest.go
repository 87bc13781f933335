package contract

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// Suggest 返回与 s 编辑距离最近的候选；距离超过阈值时返回空串。
// 比较前做大小写折叠。
func Suggest(s string, candidates []string) string {
	in := fold.String(s)
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(in, fold.String(c))
		if d > suggestLimit(len(c)) {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func suggestLimit(n int) int {
	switch {
	case n <= 4:
		return 1
	case n <= 8:
		return 2
	default:
		return 3
	}
}

func didYouMean(s string, candidates []string) string {
	if hint := Suggest(s, candidates); hint != "" {
		return fmt.Sprintf(" (did you mean %q?)", hint)
	}
	return ""
}
