package diag

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"lctcache/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总；退出码由 PreRun 判定。
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeConfig      Code = "config"
	CodeMissingData Code = "missing_data"
	CodeCodeMap     Code = "code_map"
	CodeMatcher     Code = "matcher"
	CodeInvariant   Code = "invariant"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrConfig) || errors.Is(err, contract.ErrProportionSum):
		return CodeConfig
	case errors.Is(err, contract.ErrMissingSiteData):
		return CodeMissingData
	case errors.Is(err, contract.ErrCodeMap):
		return CodeCodeMap
	case errors.Is(err, contract.ErrMatcher):
		return CodeMatcher
	case errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrSeqInvalid) ||
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// PreRun 判断错误是否属于生成开始前即可发现的失败（配置错误、缺数据）。
func PreRun(err error) bool {
	switch Classify(err) {
	case CodeConfig, CodeMissingData:
		return true
	}
	return false
}

// Fail 记录错误事件并累加错误指标，返回分类代码。
func Fail(l *Logger, comp, msg string, err error, t *Timer, site, cand string) Code {
	code := Classify(err)
	var kv map[string]string
	if err != nil {
		kv = map[string]string{"err": err.Error()}
	}
	l.ErrorWithKV(comp, string(code), msg, t.Since(), site, cand, kv)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
