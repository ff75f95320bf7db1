package render

import (
	"fmt"
	"io"
	"math"

	"github.com/jung-kurt/gofpdf"

	"github.com/astromechza/sketchroom/pkg/shape"
)

// PDF writes the shapes as vector strokes on a single page sized to fit them. Canvas
// units map one-to-one onto PDF points.
func PDF(w io.Writer, shapes []shape.Shape, minW, minH int) error {
	width, height := FitSize(shapes, minW, minH)
	p := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	p.SetMargins(0, 0, 0)
	p.SetAutoPageBreak(false, 0)
	p.AddPage()
	p.SetDrawColor(0, 0, 0)
	p.SetTextColor(0, 0, 0)
	p.SetLineWidth(1)

	for _, s := range shapes {
		switch s.Kind {
		case shape.KindRect:
			b := shape.Bounds(s)
			p.Rect(b.MinX, b.MinY, b.Width(), b.Height(), "D")
		case shape.KindCircle:
			p.Circle(s.CenterX, s.CenterY, math.Abs(s.Radius), "D")
		case shape.KindPencil:
			for i := 1; i < len(s.Path); i++ {
				p.Line(s.Path[i-1].X, s.Path[i-1].Y, s.Path[i].X, s.Path[i].Y)
			}
		case shape.KindText:
			size := s.FontSize
			if size <= 0 {
				size = 20
			}
			p.SetFont("Helvetica", "", size)
			p.Text(s.X, s.Y, s.Text)
		}
	}
	if err := p.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
