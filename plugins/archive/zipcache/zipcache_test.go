package zipcache

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lctcache/pkg/contract"
)

// memWriter: 内存 Writer；读取出错时不保留任何内容（模拟原子写）。
type memWriter struct {
	mu    sync.Mutex
	files map[contract.ArtifactID][]byte
	fail  error
}

func newMem() *memWriter { return &memWriter{files: map[contract.ArtifactID][]byte{}} }

func (m *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if m.fail != nil {
		return m.fail
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = b
	return nil
}

func (m *memWriter) get(id contract.ArtifactID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[id]
	return b, ok
}

func build(t *testing.T, a *Archiver, w contract.Writer, names ...string) error {
	t.Helper()
	s, err := a.Open(context.Background(), "site/init_lct_maps.zip", w)
	require.NoError(t, err)
	for _, n := range names {
		if err := s.Add(context.Background(), n, strings.NewReader("body of "+n)); err != nil {
			s.Abort(err)
			return err
		}
	}
	return s.Commit()
}

// TestCommitOrder 成员按追加顺序写入，内容与固定时间戳可回读。
func TestCommitOrder(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)
	mem := newMem()
	names := []string{"init-landscape0.asc", "init-landscape0.csv", "init-landscape1.asc", "init-landscape1.csv"}
	require.NoError(t, build(t, a, mem, names...))

	b, ok := mem.get("site/init_lct_maps.zip")
	require.True(t, ok)
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	require.Len(t, zr.File, 4)
	for i, f := range zr.File {
		assert.Equal(t, names[i], f.Name)
		assert.True(t, f.Modified.Equal(ModTime), f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		assert.Equal(t, "body of "+names[i], string(body))
	}
}

// TestReproducible 相同输入产出相同字节。
func TestReproducible(t *testing.T) {
	a, _ := New(&Options{Method: "store"})
	m1, m2 := newMem(), newMem()
	require.NoError(t, build(t, a, m1, "a", "b"))
	require.NoError(t, build(t, a, m2, "a", "b"))
	b1, _ := m1.get("site/init_lct_maps.zip")
	b2, _ := m2.get("site/init_lct_maps.zip")
	assert.Equal(t, b1, b2)
}

// TestSequenceViolation 非升序成员被拒绝且不产出归档。
func TestSequenceViolation(t *testing.T) {
	a, _ := New(nil)
	mem := newMem()
	err := build(t, a, mem, "init-landscape1.asc", "init-landscape0.asc")
	require.ErrorIs(t, err, contract.ErrSeqInvalid)
	_, ok := mem.get("site/init_lct_maps.zip")
	assert.False(t, ok)

	err = build(t, a, newMem(), "a", "a")
	require.ErrorIs(t, err, contract.ErrSeqInvalid)

	err = build(t, a, newMem(), "dir/a")
	require.ErrorIs(t, err, contract.ErrPathInvalid)
}

// TestAbort 中止后目标不存在，重复关闭无效。
func TestAbort(t *testing.T) {
	a, _ := New(nil)
	mem := newMem()
	s, err := a.Open(context.Background(), "x.zip", mem)
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), "a", strings.NewReader("1")))
	s.Abort(nil)
	s.Abort(errors.New("again"))
	_, ok := mem.get("x.zip")
	assert.False(t, ok)
	require.ErrorIs(t, s.Commit(), contract.ErrSeqInvalid)
	require.ErrorIs(t, s.Add(context.Background(), "b", strings.NewReader("2")), contract.ErrSeqInvalid)
}

// TestWriterFailure Writer 失败时 Commit 返回其错误。
func TestWriterFailure(t *testing.T) {
	a, _ := New(nil)
	mem := newMem()
	mem.fail = contract.ErrPathInvalid
	err := build(t, a, mem, "a", "b")
	require.ErrorIs(t, err, contract.ErrPathInvalid)
}

// TestOptions 未知压缩方式被拒绝。
func TestOptions(t *testing.T) {
	_, err := New(&Options{Method: "bzip2"})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}
