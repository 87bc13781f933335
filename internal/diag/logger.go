package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir: 未配置 logging.dir 时的日志目录。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件；sink 不可用时回退 stderr。
// 所有方法对 nil 接收者为 no-op。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 以 level 初始化，日志写入 dir（空则 DefaultLogDir），10MiB 轮转。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultLogDir
	}
	return &Logger{corrID: corrID, level: ParseLevel(level), sink: NewRotatingFile(dir, 10*1024*1024)}
}

// ParseLevel 解析级别；未知值按 info 处理。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ValidLevel 判断级别字符串是否为已知取值（空串视为合法）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// Event 为标准事件结构。
type Event struct {
	Level     string            `json:"level"`
	TS        string            `json:"ts"`
	CorrID    string            `json:"corr_id"`
	Comp      string            `json:"comp"`
	Stage     string            `json:"stage"` // start|finish|error|info
	Code      string            `json:"code,omitempty"`
	DurMS     int64             `json:"dur_ms,omitempty"`
	Count     int64             `json:"count,omitempty"`
	Site      string            `json:"site,omitempty"`
	Candidate string            `json:"candidate,omitempty"`
	Msg       string            `json:"msg"`
	KV        map[string]string `json:"kv,omitempty"`
}

// Cand 把候选序号格式化为事件字段；负数表示无。
func Cand(i int) string {
	if i < 0 {
		return ""
	}
	return strconv.Itoa(i)
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Close 关闭日志文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 site/candidate 的 start。
func (l *Logger) StartWith(comp, msg, site, cand string) *Timer {
	return l.StartWithKV(comp, msg, site, cand, nil)
}

// StartWithKV 记录带 site/candidate 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, site, cand string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	l.log(Info, Event{Comp: comp, Stage: "start", Site: site, Candidate: cand, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, site: site, cand: cand, t0: time.Now()}
}

// Info 记录一条无计时的信息事件。
func (l *Logger) Info(comp, msg, site string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "info", Site: site, Msg: msg, KV: kv})
}

// Warn 记录告警事件。
func (l *Logger) Warn(comp, msg, site string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "info", Site: site, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 site/candidate。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, site, cand string) {
	l.ErrorWithKV(comp, code, msg, durSince, site, cand, nil)
}

// ErrorWithKV 支持附带键值对（例如缺失编码、比例和）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, site, cand string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Site: site, Candidate: cand, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, site, cand string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Site: site, Candidate: cand, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	site string
	cand string
	t0   time.Time
}

// Finish 记录 finish 与耗时指标；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ObserveDuration(t.comp, msg, dur)
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, Site: t.site, Candidate: t.cand, Msg: msg})
}

// FinishKV 与 Finish 相同，附带键值对。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	ObserveDuration(t.comp, msg, dur)
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, Site: t.site, Candidate: t.cand, Msg: msg, KV: kv})
}

// Since 返回计时起点（用于 ErrorWith 的 durSince）；nil 计时器返回 nil。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
