package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 最小错误分类（用于上层策略判定与日志归类）。
var (
	// ErrConfig: 配置错误（比例不合法、林线与高地比例未成对等），生成开始前失败。
	ErrConfig = errors.New("configuration error")
	// ErrMissingSiteData: 站点数据缺失（元数据缺站、时间序列无对应年代）。
	ErrMissingSiteData = errors.New("missing site data")
	// ErrProportionSum: 比例记录不满足 [0,1] 与总和为 1 的约束。
	ErrProportionSum = errors.New("invalid proportions")
	// ErrCodeMap: 编码映射未覆盖栅格取值区间。
	ErrCodeMap = errors.New("incomplete code map")
	// ErrMatcher: 外部景观匹配器失败。
	ErrMatcher = errors.New("landscape matcher failed")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput: 输入非法（尺寸、取值、名称等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrSeqInvalid: 归档成员顺序违例。
	ErrSeqInvalid = errors.New("sequence invalid")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)

// ProportionError 描述比例记录构造失败的原因。
type ProportionError struct {
	Site   string
	Field  string
	Value  float64
	Sum    float64
	Reason string
}

func (e *ProportionError) Error() string {
	var b strings.Builder
	b.WriteString("proportions")
	if e.Site != "" {
		fmt.Fprintf(&b, " for site %q", e.Site)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	switch {
	case e.Field != "" && e.Sum == 0:
		fmt.Fprintf(&b, " (%s=%g)", e.Field, e.Value)
	default:
		fmt.Fprintf(&b, " (sum=%.6f, tolerance=%g)", e.Sum, SumTolerance)
	}
	return b.String()
}

func (e *ProportionError) Unwrap() error { return ErrProportionSum }

// MissingSiteDataError: 站点缺少所需数据。
type MissingSiteDataError struct {
	Site string
	// What: 缺失项（例如 "metadata"、"time-series row"、"settlement age"）。
	What string
	// AgeBP: 相关年代（未知为 0）。
	AgeBP int
	Path  string
}

func (e *MissingSiteDataError) Error() string {
	msg := fmt.Sprintf("site %q: missing %s", e.Site, e.What)
	if e.AgeBP != 0 {
		msg += fmt.Sprintf(" at %d BP", e.AgeBP)
	}
	if e.Path != "" {
		msg += " in " + e.Path
	}
	return msg
}

func (e *MissingSiteDataError) Unwrap() error { return ErrMissingSiteData }

// CodeMapError 列出栅格取值区间内未被映射的临时编码。
type CodeMapError struct {
	Missing  []int
	Min, Max int
}

func (e *CodeMapError) Error() string {
	vals := make([]string, len(e.Missing))
	for i, v := range e.Missing {
		vals[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("code map must cover every value in [%d, %d]; missing %s", e.Min, e.Max, strings.Join(vals, ","))
}

func (e *CodeMapError) Unwrap() error { return ErrCodeMap }

// CandidateError 为单个候选景观的失败附带站点、序号与阶段。
type CandidateError struct {
	Site  string
	Index int
	Stage string
	Err   error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("site %q candidate %d: %s: %v", e.Site, e.Index, e.Stage, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }
