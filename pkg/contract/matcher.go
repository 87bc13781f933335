package contract

import "context"

// MaxIterations: 匹配器迭代预算上限。
const MaxIterations = 1000

// MatchRequest: 一次景观匹配的输入。
// Proportions/Upland 均按 ProportionNames 顺序排列。
type MatchRequest struct {
	Proportions []float64
	// Iterations: 迭代预算（1..MaxIterations）。
	Iterations int
	// Treeline: 林线高程（米）；nil 表示不分层，此时 Upland 必须为空。
	Treeline *float64
	Upland   []float64
	// Seed: 随机种子；相同输入与种子产出相同景观。
	Seed int64
}

// Matcher: 外部景观匹配器。给定基础 DEM 与目标比例，返回一个候选景观。
// 约束：
//  1. 输出尺寸与地理参照与 DEM 完全一致；
//  2. 输出编码为临时编码：i 表示 ProportionNames[i]；
//  3. 仅尽力逼近目标比例，不保证精确；
//  4. 同步返回，应尊重 ctx 取消；不得修改 dem。
type Matcher interface {
	Match(ctx context.Context, dem Elevation, req MatchRequest) (Landscape, error)
}

// Validate 检查请求的静态约束。
func (r MatchRequest) Validate() error {
	if len(r.Proportions) != len(ProportionNames) {
		return errorf(ErrInvalidInput, "match request: %d proportions, want %d", len(r.Proportions), len(ProportionNames))
	}
	if r.Iterations < 1 || r.Iterations > MaxIterations {
		return errorf(ErrInvalidInput, "match request: iterations %d outside 1..%d", r.Iterations, MaxIterations)
	}
	if (r.Treeline == nil) != (len(r.Upland) == 0) {
		return errorf(ErrConfig, "match request: treeline and upland proportions must be given together")
	}
	if r.Treeline != nil && len(r.Upland) != len(ProportionNames) {
		return errorf(ErrInvalidInput, "match request: %d upland proportions, want %d", len(r.Upland), len(ProportionNames))
	}
	return nil
}
