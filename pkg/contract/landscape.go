package contract

import (
	"fmt"
	"math"
)

// MaxCells: 单个栅格允许的最大像元数。
const MaxCells = 1 << 28

// CheckDims 校验栅格尺寸为正且像元数不超过 MaxCells（不溢出）。
func CheckDims(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidInput, rows, cols)
	}
	if rows > MaxCells/cols {
		return fmt.Errorf("%w: grid %dx%d exceeds %d cells", ErrInvalidInput, rows, cols, MaxCells)
	}
	return nil
}

// GeoRef: 栅格地理参照（左下角原点 + 方形像元），源自基础 DEM。
type GeoRef struct {
	XLLCorner float64
	YLLCorner float64
	CellSize  float64
	// NoData: 无数据值；HasNoData=false 时不写出。
	NoData    float64
	HasNoData bool
	// CRS: 可选坐标参照系（WKT，来自 DEM 的 .prj 伴随文件）。
	CRS string
}

// Equal 比较两个地理参照；NaN 无数据值彼此相等。
func (g GeoRef) Equal(o GeoRef) bool {
	if g.HasNoData != o.HasNoData {
		return false
	}
	if g.HasNoData && !sameFloat(g.NoData, o.NoData) {
		return false
	}
	return g.XLLCorner == o.XLLCorner && g.YLLCorner == o.YLLCorner && g.CellSize == o.CellSize && g.CRS == o.CRS
}

// IsNoData 判断 v 是否为无数据值。
func (g GeoRef) IsNoData(v float64) bool {
	return g.HasNoData && sameFloat(v, g.NoData)
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// Elevation: 基础高程栅格（行优先，第 0 行为最北行）。
type Elevation struct {
	Rows   int
	Cols   int
	Values []float64
	Geo    GeoRef
}

// At 返回 (row, col) 的高程。
func (e Elevation) At(row, col int) float64 { return e.Values[row*e.Cols+col] }

// IsNoData 判断像元是否为无数据。
func (e Elevation) IsNoData(i int) bool {
	return e.Geo.IsNoData(e.Values[i])
}

// Validate 检查尺寸与数据长度一致。
func (e Elevation) Validate() error {
	if err := CheckDims(e.Rows, e.Cols); err != nil {
		return fmt.Errorf("elevation: %w", err)
	}
	if len(e.Values) != e.Rows*e.Cols {
		return fmt.Errorf("%w: elevation has %d cells, want %d", ErrInvalidInput, len(e.Values), e.Rows*e.Cols)
	}
	return nil
}

// Landscape: 候选景观（整数地类编码网格 + 继承自 DEM 的地理参照）。
// 匹配器产出的编码为临时编码，需经规范化后方可交付。
type Landscape struct {
	Rows  int
	Cols  int
	Cells []int
	Geo   GeoRef
}

// NewLandscape 由二维切片构造景观（深拷贝，要求矩形）。
func NewLandscape(rows [][]int, geo GeoRef) (Landscape, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Landscape{}, fmt.Errorf("%w: empty grid", ErrInvalidInput)
	}
	w := len(rows[0])
	cells := make([]int, 0, len(rows)*w)
	for _, r := range rows {
		if len(r) != w {
			return Landscape{}, fmt.Errorf("%w: grid rows differ in length", ErrInvalidInput)
		}
		cells = append(cells, r...)
	}
	return Landscape{Rows: len(rows), Cols: w, Cells: cells, Geo: geo}, nil
}

// Validate 检查尺寸与数据长度一致。
func (l Landscape) Validate() error {
	if err := CheckDims(l.Rows, l.Cols); err != nil {
		return fmt.Errorf("landscape: %w", err)
	}
	if len(l.Cells) != l.Rows*l.Cols {
		return fmt.Errorf("%w: landscape has %d cells, want %d", ErrInvalidInput, len(l.Cells), l.Rows*l.Cols)
	}
	return nil
}

// At 返回 (row, col) 的编码。
func (l Landscape) At(row, col int) int { return l.Cells[row*l.Cols+col] }

// Rows2D 返回二维切片副本。
func (l Landscape) Rows2D() [][]int {
	out := make([][]int, l.Rows)
	for r := 0; r < l.Rows; r++ {
		out[r] = make([]int, l.Cols)
		copy(out[r], l.Cells[r*l.Cols:(r+1)*l.Cols])
	}
	return out
}

// MinMax 返回网格取值范围；空网格 ok=false。
func (l Landscape) MinMax() (lo, hi int, ok bool) {
	if len(l.Cells) == 0 {
		return 0, 0, false
	}
	lo, hi = l.Cells[0], l.Cells[0]
	for _, v := range l.Cells[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, true
}

// SameShape 判断景观与 DEM 的尺寸及地理参照是否一致。
func (l Landscape) SameShape(e Elevation) bool {
	return l.Rows == e.Rows && l.Cols == e.Cols && l.Geo.Equal(e.Geo)
}

// ScoreRecord: 单个地类的比例拟合度。Score = 1 − |Target − Realized|，1 表示完全一致。
type ScoreRecord struct {
	Code     LctCode
	Name     LctName
	Target   float64
	Realized float64
	Score    float64
}
