// Package png 将规范编码景观渲染为 PNG 快览图（每个像元一个 Scale×Scale 方块）。
package png

import (
	"context"
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"

	"lctcache/pkg/contract"
)

// Palette: 规范地类 → 颜色。
var Palette = map[contract.LctCode]color.RGBA{
	contract.WaterQuarry: {70, 130, 180, 255},
	contract.Burnt:       {60, 60, 60, 255},
	contract.Wheat:       {238, 214, 120, 255},
	contract.DAL:         {189, 215, 128, 255},
	contract.Shrubland:   {156, 168, 82, 255},
	contract.Pine:        {34, 102, 68, 255},
	contract.TransForest: {102, 153, 85, 255},
	contract.Deciduous:   {76, 153, 0, 255},
	contract.Oak:         {0, 100, 0, 255},
}

// unknown: 调色板外编码的颜色。
var unknown = color.RGBA{255, 0, 255, 255}

// Options 为可选配置。
type Options struct {
	// Scale: 每个像元的边长（像素），默认 4。
	Scale int `yaml:"scale"`
	// Legend: 是否在底部绘制图例条。
	Legend bool `yaml:"legend"`
}

// Renderer 渲染景观。
type Renderer struct {
	scale  int
	legend bool
}

// New 创建渲染器。
func New(opts *Options) (*Renderer, error) {
	r := &Renderer{scale: 4}
	if opts == nil {
		return r, nil
	}
	if opts.Scale < 0 || opts.Scale > 64 {
		return nil, fmt.Errorf("%w: preview scale %d outside 1..64", contract.ErrInvalidInput, opts.Scale)
	}
	if opts.Scale > 0 {
		r.scale = opts.Scale
	}
	r.legend = opts.Legend
	return r, nil
}

var _ contract.Previewer = (*Renderer)(nil)

func (r *Renderer) Ext() string { return "png" }

const legendRow = 12

// Render 把 l 编码为 PNG 写入 w。
func (r *Renderer) Render(ctx context.Context, w io.Writer, l contract.Landscape) error {
	if err := l.Validate(); err != nil {
		return err
	}
	width, height := l.Cols*r.scale, l.Rows*r.scale
	extra := 0
	if r.legend {
		extra = legendRow * len(contract.AllLct())
	}
	dc := gg.NewContext(width, height+extra)
	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	s := float64(r.scale)
	for row := 0; row < l.Rows; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for col := 0; col < l.Cols; col++ {
			c, ok := Palette[contract.LctCode(l.At(row, col))]
			if !ok {
				c = unknown
			}
			dc.SetRGB255(int(c.R), int(c.G), int(c.B))
			dc.DrawRectangle(float64(col)*s, float64(row)*s, s, s)
			dc.Fill()
		}
	}
	if r.legend {
		for i, code := range contract.AllLct() {
			c := Palette[code]
			y := float64(height + i*legendRow)
			dc.SetRGB255(int(c.R), int(c.G), int(c.B))
			dc.DrawRectangle(2, y+2, legendRow-4, legendRow-4)
			dc.Fill()
			dc.SetRGB255(0, 0, 0)
			dc.DrawString(code.Alias(), legendRow+2, y+legendRow-2)
		}
	}
	return dc.EncodePNG(w)
}
