// Package ascgrid 实现 ESRI ASCII Grid（.asc）栅格读写。
//
// 头部六个关键字（大小写不敏感，顺序不限）：
//
//	ncols / nrows / xllcorner|xllcenter / yllcorner|yllcenter / cellsize / [NODATA_value]
//
// 其后按行（北 → 南）给出 nrows×ncols 个以空白分隔的数值。
package ascgrid

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"lctcache/pkg/contract"
)

// Options 为可选配置。
type Options struct {
	// Ext: 输出扩展名（不含点），默认 "asc"。
	Ext string `yaml:"ext"`
	// BufSize: 写缓冲大小；<=0 使用默认 64KiB。
	BufSize int `yaml:"buf_size"`
}

// Codec 实现 contract.RasterCodec。
type Codec struct {
	ext     string
	bufSize int
}

// New 创建编解码器。
func New(opts *Options) (*Codec, error) {
	c := &Codec{ext: "asc", bufSize: 64 * 1024}
	if opts == nil {
		return c, nil
	}
	if e := strings.TrimPrefix(strings.TrimSpace(opts.Ext), "."); e != "" {
		if strings.ContainsAny(e, `/\.`) {
			return nil, fmt.Errorf("%w: raster ext %q", contract.ErrInvalidInput, opts.Ext)
		}
		c.ext = e
	}
	if opts.BufSize > 0 {
		c.bufSize = opts.BufSize
	}
	return c, nil
}

var _ contract.RasterCodec = (*Codec)(nil)

func (c *Codec) Ext() string { return c.ext }

type header struct {
	cols, rows int
	geo        contract.GeoRef
}

// ReadElevation 解析高程栅格。
func (c *Codec) ReadElevation(ctx context.Context, r io.Reader) (contract.Elevation, error) {
	sc := newScanner(r)
	h, err := readHeader(sc)
	if err != nil {
		return contract.Elevation{}, err
	}
	vals := make([]float64, 0, h.rows*h.cols)
	for i := 0; i < h.rows*h.cols; i++ {
		if i%h.cols == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Elevation{}, err
			}
		}
		tok, err := sc.next()
		if err != nil {
			return contract.Elevation{}, fmt.Errorf("%w: cell %d: %v", contract.ErrInvalidInput, i, err)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return contract.Elevation{}, fmt.Errorf("%w: cell %d: %q", contract.ErrInvalidInput, i, tok)
		}
		vals = append(vals, v)
	}
	if err := sc.trailing(); err != nil {
		return contract.Elevation{}, err
	}
	e := contract.Elevation{Rows: h.rows, Cols: h.cols, Values: vals, Geo: h.geo}
	return e, e.Validate()
}

// ReadLandscape 解析整数编码栅格（容忍 "3.0" 形式，拒绝非整数值）。
func (c *Codec) ReadLandscape(ctx context.Context, r io.Reader) (contract.Landscape, error) {
	sc := newScanner(r)
	h, err := readHeader(sc)
	if err != nil {
		return contract.Landscape{}, err
	}
	cells := make([]int, 0, h.rows*h.cols)
	for i := 0; i < h.rows*h.cols; i++ {
		if i%h.cols == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Landscape{}, err
			}
		}
		tok, err := sc.next()
		if err != nil {
			return contract.Landscape{}, fmt.Errorf("%w: cell %d: %v", contract.ErrInvalidInput, i, err)
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			f, ferr := strconv.ParseFloat(tok, 64)
			if ferr != nil || f != math.Trunc(f) {
				return contract.Landscape{}, fmt.Errorf("%w: cell %d: %q is not an integer code", contract.ErrInvalidInput, i, tok)
			}
			v = int(f)
		}
		cells = append(cells, v)
	}
	if err := sc.trailing(); err != nil {
		return contract.Landscape{}, err
	}
	l := contract.Landscape{Rows: h.rows, Cols: h.cols, Cells: cells, Geo: h.geo}
	return l, l.Validate()
}

// WriteLandscape 写出景观；地理参照原样写出，CRS 不写入（.asc 无此字段）。
func (c *Codec) WriteLandscape(ctx context.Context, w io.Writer, l contract.Landscape) error {
	if err := l.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, c.bufSize)
	writeHeader(bw, l.Rows, l.Cols, l.Geo)
	buf := make([]byte, 0, 16)
	for r := 0; r < l.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for col := 0; col < l.Cols; col++ {
			if col > 0 {
				_ = bw.WriteByte(' ')
			}
			buf = strconv.AppendInt(buf[:0], int64(l.At(r, col)), 10)
			_, _ = bw.Write(buf)
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteElevation 写出高程栅格（测试夹具与数据准备用）。
func (c *Codec) WriteElevation(ctx context.Context, w io.Writer, e contract.Elevation) error {
	if err := e.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, c.bufSize)
	writeHeader(bw, e.Rows, e.Cols, e.Geo)
	for r := 0; r < e.Rows; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for col := 0; col < e.Cols; col++ {
			if col > 0 {
				_ = bw.WriteByte(' ')
			}
			_, _ = bw.WriteString(ftoa(e.At(r, col)))
		}
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, rows, cols int, g contract.GeoRef) {
	fmt.Fprintf(w, "ncols %d\n", cols)
	fmt.Fprintf(w, "nrows %d\n", rows)
	fmt.Fprintf(w, "xllcorner %s\n", ftoa(g.XLLCorner))
	fmt.Fprintf(w, "yllcorner %s\n", ftoa(g.YLLCorner))
	fmt.Fprintf(w, "cellsize %s\n", ftoa(g.CellSize))
	if g.HasNoData {
		fmt.Fprintf(w, "NODATA_value %s\n", ftoa(g.NoData))
	}
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func readHeader(sc *scanner) (header, error) {
	var (
		h                  header
		seen               = map[string]bool{}
		xCenter, yCenter   bool
		xVal, yVal, cellSz float64
	)
	for {
		key, ok := sc.peekKeyword()
		if !ok {
			break
		}
		_, _ = sc.next()
		val, err := sc.next()
		if err != nil {
			return h, fmt.Errorf("%w: header %s: %v", contract.ErrInvalidInput, key, err)
		}
		if seen[key] {
			return h, fmt.Errorf("%w: duplicate header %s", contract.ErrInvalidInput, key)
		}
		seen[key] = true
		switch key {
		case "ncols", "nrows":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return h, fmt.Errorf("%w: header %s %q", contract.ErrInvalidInput, key, val)
			}
			if key == "ncols" {
				h.cols = n
			} else {
				h.rows = n
			}
		default:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil || math.IsInf(f, 0) || (math.IsNaN(f) && key != "nodata_value") {
				return h, fmt.Errorf("%w: header %s %q", contract.ErrInvalidInput, key, val)
			}
			switch key {
			case "xllcorner":
				xVal = f
			case "xllcenter":
				xVal, xCenter = f, true
			case "yllcorner":
				yVal = f
			case "yllcenter":
				yVal, yCenter = f, true
			case "cellsize":
				cellSz = f
			case "nodata_value":
				h.geo.NoData, h.geo.HasNoData = f, true
			}
		}
	}
	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if !seen[k] {
			return h, fmt.Errorf("%w: missing header %s", contract.ErrInvalidInput, k)
		}
	}
	if err := contract.CheckDims(h.rows, h.cols); err != nil {
		return h, err
	}
	if !(seen["xllcorner"] || seen["xllcenter"]) || !(seen["yllcorner"] || seen["yllcenter"]) {
		return h, fmt.Errorf("%w: missing lower-left origin", contract.ErrInvalidInput)
	}
	if seen["xllcorner"] && seen["xllcenter"] || seen["yllcorner"] && seen["yllcenter"] {
		return h, fmt.Errorf("%w: both corner and center origin given", contract.ErrInvalidInput)
	}
	if cellSz <= 0 {
		return h, fmt.Errorf("%w: cellsize %g", contract.ErrInvalidInput, cellSz)
	}
	if xCenter {
		xVal -= cellSz / 2
	}
	if yCenter {
		yVal -= cellSz / 2
	}
	h.geo.XLLCorner, h.geo.YLLCorner, h.geo.CellSize = xVal, yVal, cellSz
	return h, nil
}

var keywords = map[string]bool{
	"ncols": true, "nrows": true, "xllcorner": true, "xllcenter": true,
	"yllcorner": true, "yllcenter": true, "cellsize": true, "nodata_value": true,
}

// scanner: 空白分隔的 token 流，支持一次前瞻。
type scanner struct {
	s       *bufio.Scanner
	pending string
	has     bool
}

func newScanner(r io.Reader) *scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	s.Split(bufio.ScanWords)
	return &scanner{s: s}
}

func (sc *scanner) fill() error {
	if sc.has {
		return nil
	}
	if !sc.s.Scan() {
		if err := sc.s.Err(); err != nil {
			return err
		}
		return io.ErrUnexpectedEOF
	}
	sc.pending, sc.has = sc.s.Text(), true
	return nil
}

func (sc *scanner) next() (string, error) {
	if err := sc.fill(); err != nil {
		return "", err
	}
	sc.has = false
	return sc.pending, nil
}

// peekKeyword 前瞻下一个 token；若为头部关键字返回其小写形式。
func (sc *scanner) peekKeyword() (string, bool) {
	if err := sc.fill(); err != nil {
		return "", false
	}
	k := strings.ToLower(sc.pending)
	return k, keywords[k]
}

// trailing 要求数据区之后没有多余 token。
func (sc *scanner) trailing() error {
	if err := sc.fill(); err == nil {
		return fmt.Errorf("%w: unexpected trailing value %q", contract.ErrInvalidInput, sc.pending)
	} else if err != io.ErrUnexpectedEOF {
		return err
	}
	return nil
}
