package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LogPrefix: 日志文件名前缀。
const LogPrefix = "lctcache"

// LogExt: 日志文件扩展名（每行一个 JSON 事件）。
const LogExt = ".jsonl"

// CurrentLogName: 当前日志文件名。
const CurrentLogName = LogPrefix + "-current" + LogExt

// RotatingFile 将日志行写入指定目录，并按文件大小轮转。
// - 当前文件固定名：CurrentLogName
// - 轮转：当 size+len(line) 超过 maxBytes 时，将当前文件重命名为 lctcache-<UTC 时间戳>.jsonl，再重新创建当前文件。
// - 保留：最多保留 Keep 个历史文件，超出时按时间戳删除最旧者。
type RotatingFile struct {
	dir      string
	maxBytes int64
	// Keep: 历史文件保留数；<=0 表示不清理。
	Keep     int
	mu       sync.Mutex
	f        *os.File
	curSize  int64
}

// NewRotatingFile 创建轮转文件；maxBytes<=0 时默认 10MiB。目录在首次写入时创建。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, Keep: 5}
}

// WriteLine 写入一行（自动追加换行）。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	lineLen := int64(len(b) + 1) // 包含换行
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.curSize+lineLen > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(b, '\n'))
	if err != nil {
		return err
	}
	w.curSize += int64(n)
	return nil
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(w.dir, CurrentLogName)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	if st, err := f.Stat(); err == nil {
		w.curSize = st.Size()
	} else {
		w.curSize = 0
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	oldPath := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	// 纳秒时间戳，避免同秒轮转互相覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	rotated := filepath.Join(filepath.Dir(oldPath), LogPrefix+"-"+ts+LogExt)
	if err := os.Rename(oldPath, rotated); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	w.prune()
	return w.ensureOpen()
}

// prune 删除超出保留数的历史文件；删除失败忽略。
func (w *RotatingFile) prune() {
	if w.Keep <= 0 {
		return
	}
	old, err := filepath.Glob(filepath.Join(w.dir, LogPrefix+"-*"+LogExt))
	if err != nil {
		return
	}
	hist := old[:0]
	for _, p := range old {
		if filepath.Base(p) != CurrentLogName {
			hist = append(hist, p)
		}
	}
	sort.Strings(hist)
	for len(hist) > w.Keep {
		_ = os.Remove(hist[0])
		hist = hist[1:]
	}
}

// Close 关闭当前文件句柄；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}
