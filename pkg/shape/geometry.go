package shape

import "math"

// PathTolerance is how close a point must be to a pencil segment to count as a hit.
const PathTolerance = 10.0

// textDescent is the slack below the baseline that still selects a text shape.
const textDescent = 5.0

type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Box) Contains(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

func (b Box) Width() float64  { return b.MaxX - b.MinX }
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Union returns the smallest box covering both.
func (b Box) Union(o Box) Box {
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// normalizedRect handles rectangles dragged towards the top-left, which carry a negative
// width or height.
func normalizedRect(x, y, w, h float64) Box {
	return Box{
		MinX: math.Min(x, x+w),
		MaxX: math.Max(x, x+w),
		MinY: math.Min(y, y+h),
		MaxY: math.Max(y, y+h),
	}
}

// HitTest reports whether p selects s, measuring text with the default measurer.
func HitTest(p Point, s Shape) bool {
	return HitTestWith(DefaultMeasurer(), p, s)
}

func HitTestWith(m Measurer, p Point, s Shape) bool {
	switch s.Kind {
	case KindRect:
		return normalizedRect(s.X, s.Y, s.Width, s.Height).Contains(p)
	case KindCircle:
		return math.Hypot(p.X-s.CenterX, p.Y-s.CenterY) <= math.Abs(s.Radius)
	case KindPencil:
		if len(s.Path) == 1 {
			return math.Hypot(p.X-s.Path[0].X, p.Y-s.Path[0].Y) < PathTolerance
		}
		for i := 0; i+1 < len(s.Path); i++ {
			if DistanceToSegment(p, s.Path[i], s.Path[i+1]) < PathTolerance {
				return true
			}
		}
		return false
	case KindText:
		return textBox(m, s).Contains(p)
	default:
		return false
	}
}

// DistanceToSegment is the euclidean distance from p to the closest point of segment ab.
func DistanceToSegment(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lengthSquared := dx*dx + dy*dy
	if lengthSquared == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lengthSquared
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

func textBox(m Measurer, s Shape) Box {
	width := m.Measure(s.Text, s.FontSize)
	return Box{MinX: s.X, MaxX: s.X + width, MinY: s.Y - s.FontSize, MaxY: s.Y + textDescent}
}

// Translate returns a copy of s with every coordinate shifted by (dx, dy).
func Translate(s Shape, dx, dy float64) Shape {
	out := s.Clone()
	switch out.Kind {
	case KindRect, KindText:
		out.X += dx
		out.Y += dy
	case KindCircle:
		out.CenterX += dx
		out.CenterY += dy
	case KindPencil:
		for i := range out.Path {
			out.Path[i].X += dx
			out.Path[i].Y += dy
		}
	}
	return out
}

// Bounds returns the normalized bounding box of s.
func Bounds(s Shape) Box {
	return BoundsWith(DefaultMeasurer(), s)
}

func BoundsWith(m Measurer, s Shape) Box {
	switch s.Kind {
	case KindRect:
		return normalizedRect(s.X, s.Y, s.Width, s.Height)
	case KindCircle:
		r := math.Abs(s.Radius)
		return Box{MinX: s.CenterX - r, MinY: s.CenterY - r, MaxX: s.CenterX + r, MaxY: s.CenterY + r}
	case KindPencil:
		if len(s.Path) == 0 {
			return Box{}
		}
		b := Box{MinX: s.Path[0].X, MinY: s.Path[0].Y, MaxX: s.Path[0].X, MaxY: s.Path[0].Y}
		for _, p := range s.Path[1:] {
			b = b.Union(Box{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y})
		}
		return b
	case KindText:
		return textBox(m, s)
	default:
		return Box{}
	}
}
