// Package csvscore 将得分表写为 CSV。
package csvscore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"lctcache/pkg/contract"
)

// Header: 固定表头。
var Header = []string{"lct_code", "lct_name", "target_proportion", "realized_proportion", "score"}

// Options 为可选配置。
type Options struct {
	// Delimiter: 单字符分隔符，默认 ","。
	Delimiter string `yaml:"delimiter"`
	// Precision: 小数位数；<0 或未给出时使用最短表示。
	Precision *int `yaml:"precision"`
}

// Writer 实现 contract.ScoreTableWriter。
type Writer struct {
	comma rune
	prec  int
}

// New 创建 CSV 得分表写出器。
func New(opts *Options) (*Writer, error) {
	w := &Writer{comma: ',', prec: -1}
	if opts == nil {
		return w, nil
	}
	if opts.Delimiter != "" {
		r, n := utf8.DecodeRuneInString(opts.Delimiter)
		if n != len(opts.Delimiter) || r == '"' || r == '\n' || r == '\r' || r == utf8.RuneError {
			return nil, fmt.Errorf("%w: delimiter %q", contract.ErrInvalidInput, opts.Delimiter)
		}
		w.comma = r
	}
	if opts.Precision != nil && *opts.Precision >= 0 {
		w.prec = *opts.Precision
	}
	return w, nil
}

var _ contract.ScoreTableWriter = (*Writer)(nil)

func (w *Writer) Ext() string {
	if w.comma == '\t' {
		return "tsv"
	}
	return "csv"
}

// WriteScores 写出表头与每个地类一行，保持输入顺序。
func (w *Writer) WriteScores(ctx context.Context, out io.Writer, rows []contract.ScoreRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cw := csv.NewWriter(out)
	cw.Comma = w.comma
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(int(r.Code)),
			string(r.Name),
			w.num(r.Target),
			w.num(r.Realized),
			w.num(r.Score),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) num(v float64) string { return strconv.FormatFloat(v, 'f', w.prec, 64) }
