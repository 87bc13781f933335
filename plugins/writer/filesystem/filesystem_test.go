package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lctcache/pkg/contract"
)

func noTemp(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, TempPattern))
	require.NoError(t, err)
	assert.Empty(t, matches, "临时文件未清理")
}

// TestWriteAtomic 原子写入到站点子目录。
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "navarres/init_lct_maps.zip", bytes.NewBufferString("data")))
	b, err := os.ReadFile(filepath.Join(dir, "navarres", "init_lct_maps.zip"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	noTemp(t, filepath.Join(dir, "navarres"))
}

// TestWriteAtomicReplaceExisting 目标已存在时整体替换。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	require.NoError(t, w.Write(context.Background(), "out.zip", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "out.zip", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "out.zip"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTemp(t, dir)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicReaderError 读取端出错：不产生目标文件，不残留临时文件，旧目标保持不变。
func TestWriteAtomicReaderError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	err := w.Write(context.Background(), "a.zip", errReader{})
	require.Error(t, err)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)

	require.NoError(t, w.Write(context.Background(), "a.zip", strings.NewReader("old")))
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("partial"))
		_ = pw.CloseWithError(errors.New("aborted"))
	}()
	require.Error(t, w.Write(context.Background(), "a.zip", pr))
	b, err := os.ReadFile(filepath.Join(dir, "a.zip"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
	noTemp(t, dir)
}

// TestWritePathInvalid 越界标识被拒绝。
func TestWritePathInvalid(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	for _, id := range []string{"../bad", "..", ".", "", "/abs/x.zip"} {
		err := w.Write(context.Background(), contract.ArtifactID(id), bytes.NewBufferString("x"))
		require.ErrorIs(t, err, contract.ErrPathInvalid, id)
	}
	p, err := w.Path("s/x.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "s", "x.zip"), p)
	assert.Equal(t, dir, w.Root())
}

// TestWriteNonAtomic 覆盖写模式。
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	off := false
	w, _ := New(&Options{OutputDir: dir, Atomic: &off})
	require.NoError(t, w.Write(context.Background(), "sub/out.csv", bytes.NewBufferString("v")))
	_, err := os.Stat(filepath.Join(dir, "sub", "out.csv"))
	require.NoError(t, err)
}

// TestWriteCtxCancel 上下文取消。
func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Write(ctx, "a.zip", strings.NewReader("data")), context.Canceled)

	r := readerWithCtx(ctx, strings.NewReader("data"))
	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, context.Canceled)
}

// TestNewInvalid 缺少输出目录属于配置错误。
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, contract.ErrConfig)
	_, err = New(&Options{OutputDir: "  "})
	require.ErrorIs(t, err, contract.ErrConfig)
}

// BenchmarkWrite 不同输入尺寸下的写入性能。
func BenchmarkWrite(b *testing.B) {
	for _, sz := range []int{1024, 1024 * 1024} {
		data := bytes.Repeat([]byte("a"), sz)
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			w, err := New(&Options{OutputDir: b.TempDir()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(context.Background(), "site/init_lct_maps.zip", bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
