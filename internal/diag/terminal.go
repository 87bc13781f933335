package diag

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 多站点并行时按站点记录进度；并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	tagRun  lipgloss.Style
	tagOK   lipgloss.Style
	tagFail lipgloss.Style

	concurrency int
	matcher     string
	sitesTotal  int
	sitesDone   int
	runStart    time.Time

	// 站点 → [已完成, 计划] 候选数
	active map[string][2]int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
// 颜色由 lipgloss 按 w 的能力决定，非终端输出为纯文本。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		w:       w,
		enabled: enabled,
		tagRun:  r.NewStyle().Faint(true),
		tagOK:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		tagFail: r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		active:  make(map[string][2]int),
	}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、匹配器、站点数）。
func (t *Terminal) RunStart(concurrency int, matcher string, sites int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.matcher = matcher
	t.sitesTotal = sites
	t.sitesDone = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("%s 站点=%d | 并发=%d | matcher=%s", t.tagRun.Render("[run]"), sites, concurrency, safe(matcher)))
}

// SiteStart: 标记站点开始与计划候选数。
func (t *Terminal) SiteStart(site string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	site = shorten(site, 32)
	t.active[site] = [2]int{0, total}
	if !t.isTTY {
		t.println(fmt.Sprintf("[site] %s | 计划候选=%d", site, total))
	}
}

// SiteProgress: 周期性进度（TTY，≥100ms 节流）。
func (t *Terminal) SiteProgress(site string, done, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	site = shorten(site, 32)
	t.active[site] = [2]int{done, total}
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(t.progressLine())
}

func (t *Terminal) progressLine() string {
	names := make([]string, 0, len(t.active))
	for s := range t.active {
		names = append(names, s)
	}
	sort.Strings(names)
	parts := make([]string, 0, 4)
	for i, s := range names {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("+%d", len(names)-3))
			break
		}
		p := t.active[s]
		parts = append(parts, fmt.Sprintf("%s %d/%d", s, p[0], p[1]))
	}
	return fmt.Sprintf("[build] %s | 站点 %d/%d | 用时 %s",
		strings.Join(parts, " · "), t.sitesDone, t.sitesTotal, formatSince(t.runStart))
}

// SiteFinish: 完成站点（立即刷新并换行）。
func (t *Terminal) SiteFinish(site string, ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	site = shorten(site, 32)
	p := t.active[site]
	delete(t.active, site)
	t.sitesDone++
	tag := t.tagOK.Render("[done]")
	if !ok {
		tag = t.tagFail.Render("[fail]")
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 候选 %d/%d | 总用时 %s", tag, site, p[0], p[1], formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := t.tagOK.Render("[ok]")
	if !ok {
		tag = t.tagFail.Render("[fail]")
	}
	t.println(fmt.Sprintf("%s 全部完成 | 站点 %d/%d | 总用时 %s", tag, t.sitesDone, t.sitesTotal, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容；新行比旧行短时以空格覆盖行尾。
func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten 按可见宽度截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
