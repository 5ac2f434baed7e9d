package layout

import (
	"context"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

// GridMeasurer はページ幅とパネル間隔、レイアウト行列からサブパネルの箱を計算します。
// 行の高さが未指定のパネルは正方形セルとして扱うのだ。
type GridMeasurer struct {
	Snapshot func() domain.Project
}

// Measure は対象サブパネルが占めるセル群の外接矩形のサイズを返します。
func (g GridMeasurer) Measure(_ context.Context, subPanelID string) (Size, error) {
	p := g.Snapshot()
	ref, ok := p.FindSubPanel(subPanelID)
	if !ok {
		return Size{}, nil
	}
	pn := p.Chapters[ref.Chapter].Panels[ref.Panel]
	return CellBox(pn, pn.SubPanels[ref.Sub].Cell, p.Settings), nil
}

// CellBox はセルグループ cell の外接矩形のサイズを計算するのだ。
func CellBox(pn domain.Panel, cell int, s domain.Settings) Size {
	if len(pn.Layout) == 0 || len(pn.Layout[0]) == 0 || s.PageWidth <= 0 {
		return Size{}
	}
	cols := len(pn.Layout[0])
	spacing := float64(max(s.PanelSpacing, 0))
	cellW := (float64(s.PageWidth) - spacing*float64(cols-1)) / float64(cols)
	cellH := cellW
	if pn.RowHeight > 0 {
		cellH = float64(pn.RowHeight)
	}

	minR, maxR, minC, maxC := -1, -1, -1, -1
	for r, row := range pn.Layout {
		for c, v := range row {
			if v != cell {
				continue
			}
			if minR < 0 || r < minR {
				minR = r
			}
			if r > maxR {
				maxR = r
			}
			if minC < 0 || c < minC {
				minC = c
			}
			if c > maxC {
				maxC = c
			}
		}
	}
	if minR < 0 {
		return Size{}
	}
	spanC := float64(maxC - minC + 1)
	spanR := float64(maxR - minR + 1)
	return Size{
		Width:  spanC*cellW + (spanC-1)*spacing,
		Height: spanR*cellH + (spanR-1)*spacing,
	}
}
