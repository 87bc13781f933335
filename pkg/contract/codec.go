package contract

import (
	"context"
	"io"
)

// RasterCodec: 栅格读写（DEM 输入、候选景观输出与回读）。
// 约束：写出的地理参照与输入 Landscape.Geo 一致；不做重投影。
type RasterCodec interface {
	// Ext 返回不带点的扩展名（例如 "asc"）。
	Ext() string
	ReadElevation(ctx context.Context, r io.Reader) (Elevation, error)
	ReadLandscape(ctx context.Context, r io.Reader) (Landscape, error)
	WriteLandscape(ctx context.Context, w io.Writer, l Landscape) error
}

// ScoreTableWriter: 得分表写出（分隔文本）。
// 表头固定为：编码、名称、目标比例、实际比例、得分；每个地类一行，保持输入顺序。
type ScoreTableWriter interface {
	Ext() string
	WriteScores(ctx context.Context, w io.Writer, rows []ScoreRecord) error
}

// Previewer: 景观快览渲染（仅供人工检查，不进入缓存归档）。
type Previewer interface {
	Ext() string
	Render(ctx context.Context, w io.Writer, l Landscape) error
}
