// Package flaky 提供在第 K 次调用时失败的匹配器（失败路径测试用）。
package flaky

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"lctcache/pkg/contract"
	"lctcache/plugins/matcher/mock"
)

// Options 定义可选项。
type Options struct {
	// FailAt: 第几次调用失败（从 1 开始）；默认 1。
	FailAt int `yaml:"fail_at"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `yaml:"log_path"`
}

// Matcher: 第 FailAt 次调用返回 ErrMatcher，其余调用委托给 mock。
type Matcher struct {
	failAt  int64
	logPath string
	inner   *mock.Matcher
	count   atomic.Int64
}

// New 构造 Matcher。
func New(opts *Options) (*Matcher, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.FailAt < 0 {
		return nil, fmt.Errorf("%w: fail_at %d", contract.ErrInvalidInput, o.FailAt)
	}
	if o.FailAt == 0 {
		o.FailAt = 1
	}
	inner, _ := mock.New(nil)
	return &Matcher{failAt: int64(o.FailAt), logPath: o.LogPath, inner: inner}, nil
}

var _ contract.Matcher = (*Matcher)(nil)

func (m *Matcher) Match(ctx context.Context, dem contract.Elevation, req contract.MatchRequest) (contract.Landscape, error) {
	n := m.count.Add(1)
	if n == m.failAt {
		m.log(fmt.Sprintf("call %d: fail", n))
		return contract.Landscape{}, fmt.Errorf("%w: injected failure on call %d", contract.ErrMatcher, n)
	}
	m.log(fmt.Sprintf("call %d: ok", n))
	return m.inner.Match(ctx, dem, req)
}

func (m *Matcher) log(s string) {
	if m.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(m.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}
