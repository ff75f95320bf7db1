// Package render paints a shape collection onto a raster or PDF surface. Drawing is a
// pure function of the Scene; nothing here mutates shapes.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/astromechza/sketchroom/pkg/shape"
)

// Scene is everything a redraw needs: committed shapes in z-order, the in-progress shape
// of the current gesture, and the selected shape id.
type Scene struct {
	Shapes   []shape.Shape
	Preview  *shape.Shape
	Selected string
}

var (
	Background = color.Black
	Ink        = color.White
	Highlight  = color.RGBA{R: 0xff, G: 0xff, A: 0xff}
)

// Draw clears dc and paints the scene.
func Draw(dc *gg.Context, scene Scene) {
	dc.SetColor(Background)
	dc.Clear()
	for _, s := range scene.Shapes {
		if s.ID != "" && s.ID == scene.Selected {
			dc.SetColor(Highlight)
			dc.SetLineWidth(3)
		} else {
			dc.SetColor(Ink)
			dc.SetLineWidth(1)
		}
		drawShape(dc, s)
	}
	if scene.Preview != nil {
		dc.SetColor(Ink)
		dc.SetLineWidth(1)
		drawShape(dc, *scene.Preview)
	}
}

func drawShape(dc *gg.Context, s shape.Shape) {
	switch s.Kind {
	case shape.KindRect:
		b := shape.Bounds(s)
		dc.DrawRectangle(b.MinX, b.MinY, b.Width(), b.Height())
		dc.Stroke()
	case shape.KindCircle:
		dc.DrawCircle(s.CenterX, s.CenterY, math.Abs(s.Radius))
		dc.Stroke()
	case shape.KindPencil:
		if len(s.Path) < 2 {
			return
		}
		dc.MoveTo(s.Path[0].X, s.Path[0].Y)
		for _, p := range s.Path[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.Stroke()
	case shape.KindText:
		if m, ok := shape.DefaultMeasurer().(*shape.FontMeasurer); ok && s.FontSize > 0 {
			dc.SetFontFace(m.Face(s.FontSize))
		}
		dc.DrawString(s.Text, s.X, s.Y)
	}
}

// FitSize returns a canvas size that covers every shape plus a margin, never smaller
// than the given minimum.
func FitSize(shapes []shape.Shape, minW, minH int) (int, int) {
	w, h := float64(minW), float64(minH)
	for _, s := range shapes {
		b := shape.Bounds(s)
		w = math.Max(w, b.MaxX+20)
		h = math.Max(h, b.MaxY+20)
	}
	return int(math.Ceil(w)), int(math.Ceil(h))
}

// PNG renders the scene at the given size and writes it as PNG.
func PNG(w io.Writer, scene Scene, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	dc := gg.NewContext(width, height)
	Draw(dc, scene)
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
