package diag

import "sync/atomic"

// Metrics: 最小指标接口。
//   - op_total{comp,stage,result}
//   - error_total{comp,code}
//   - op_duration_ms{comp,stage}
type Metrics interface {
	IncOp(comp, stage, result string)
	IncError(comp, code string)
	ObserveDuration(comp, stage string, durMS int64)
}

type noop struct{}

func (noop) IncOp(string, string, string)          {}
func (noop) IncError(string, string)               {}
func (noop) ObserveDuration(string, string, int64) {}

type holder struct{ m Metrics }

var metrics atomic.Value

func init() { metrics.Store(holder{noop{}}) }

// SetMetrics 替换进程级指标实现；nil 恢复为 no-op。
func SetMetrics(m Metrics) {
	if m == nil {
		m = noop{}
	}
	metrics.Store(holder{m})
}

func current() Metrics { return metrics.Load().(holder).m }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { current().IncOp(comp, stage, result) }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { current().IncError(comp, code) }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) { current().ObserveDuration(comp, stage, durMS) }
