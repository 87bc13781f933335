// Package zipcache 以 zip 流式打包候选景观，经 contract.Writer 持久化。
//
// 归档字节通过 io.Pipe 直接流向 Writer：不在内存或临时目录中积累整包。
// Abort 以错误关闭管道，原子 Writer 据此丢弃临时文件，目标位置不出现残缺归档。
package zipcache

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lctcache/pkg/contract"
)

// ModTime: 所有成员的固定修改时间（zip 可表示的最早时间），保证字节可复现。
var ModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrAborted: 未给出原因的中止。
var ErrAborted = errors.New("archive aborted")

var errWriterReturned = errors.New("archive writer returned before the archive was complete")

// Options 为可选配置。
type Options struct {
	// Method: "deflate"（默认）或 "store"。
	Method string `yaml:"method"`
}

// Archiver 实现 contract.Archiver。
type Archiver struct {
	method uint16
}

// New 创建 zip 归档器。
func New(opts *Options) (*Archiver, error) {
	a := &Archiver{method: zip.Deflate}
	if opts == nil {
		return a, nil
	}
	switch strings.ToLower(strings.TrimSpace(opts.Method)) {
	case "", "deflate":
	case "store":
		a.method = zip.Store
	default:
		return nil, fmt.Errorf("%w: zip method %q (want deflate or store)", contract.ErrInvalidInput, opts.Method)
	}
	return a, nil
}

var _ contract.Archiver = (*Archiver)(nil)

// Open 启动写入协程并返回会话。
func (a *Archiver) Open(ctx context.Context, id contract.ArtifactID, w contract.Writer) (contract.ArchiveSession, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil writer", contract.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	s := &session{
		id:     id,
		method: a.method,
		pw:     pw,
		zw:     zip.NewWriter(pw),
		done:   make(chan error, 1),
	}
	go func() {
		err := w.Write(ctx, id, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.CloseWithError(errWriterReturned)
		}
		s.done <- err
	}()
	return s, nil
}

type session struct {
	id     contract.ArtifactID
	method uint16
	pw     *io.PipeWriter
	zw     *zip.Writer
	last   string
	n      int
	done   chan error
	closed bool
}

// Add 追加一个成员；名称必须严格大于上一个成员。
func (s *session) Add(ctx context.Context, name string, r io.Reader) error {
	if s.closed {
		return fmt.Errorf("%w: archive %s already closed", contract.ErrSeqInvalid, s.id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: member name %q", contract.ErrPathInvalid, name)
	}
	if s.n > 0 && name <= s.last {
		return fmt.Errorf("%w: member %q after %q", contract.ErrSeqInvalid, name, s.last)
	}
	hdr := &zip.FileHeader{Name: name, Method: s.method, Modified: ModTime}
	hdr.SetMode(0o644)
	fw, err := s.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return err
	}
	s.last = name
	s.n++
	return nil
}

// Commit 写出中央目录并等待 Writer 完成持久化。
func (s *session) Commit() error {
	if s.closed {
		return fmt.Errorf("%w: archive %s already closed", contract.ErrSeqInvalid, s.id)
	}
	s.closed = true
	if err := s.zw.Close(); err != nil {
		_ = s.pw.CloseWithError(err)
		<-s.done
		return err
	}
	_ = s.pw.Close()
	return <-s.done
}

// Abort 以 cause 中止写入并等待 Writer 退出；重复调用或 Commit 之后调用无效。
func (s *session) Abort(cause error) {
	if s.closed {
		return
	}
	s.closed = true
	if cause == nil {
		cause = ErrAborted
	}
	_ = s.pw.CloseWithError(cause)
	<-s.done
}
