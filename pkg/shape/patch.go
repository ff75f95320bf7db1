package shape

// Patch is a partial shape used by modify operations. Nil fields are left untouched and
// fields that do not belong to the target's kind are ignored.
type Patch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	CenterX  *float64 `json:"centerX,omitempty"`
	CenterY  *float64 `json:"centerY,omitempty"`
	Radius   *float64 `json:"radius,omitempty"`
	Path     []Point  `json:"path,omitempty"`
	Text     *string  `json:"text,omitempty"`
	FontSize *float64 `json:"fontSize,omitempty"`
}

func Float(v float64) *float64 { return &v }

func String(v string) *string { return &v }

// IsEmpty reports whether the patch sets nothing.
func (p Patch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil &&
		p.CenterX == nil && p.CenterY == nil && p.Radius == nil &&
		p.Path == nil && p.Text == nil && p.FontSize == nil
}

// ApplyTo returns a copy of s with the patch fields of its kind applied. Id and kind never
// change.
func (p Patch) ApplyTo(s Shape) Shape {
	out := s.Clone()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	switch out.Kind {
	case KindRect:
		set(&out.X, p.X)
		set(&out.Y, p.Y)
		set(&out.Width, p.Width)
		set(&out.Height, p.Height)
	case KindCircle:
		set(&out.CenterX, p.CenterX)
		set(&out.CenterY, p.CenterY)
		set(&out.Radius, p.Radius)
	case KindPencil:
		if len(p.Path) > 0 {
			out.Path = append([]Point(nil), p.Path...)
		}
	case KindText:
		set(&out.X, p.X)
		set(&out.Y, p.Y)
		set(&out.FontSize, p.FontSize)
		if p.Text != nil {
			out.Text = *p.Text
		}
	}
	return out
}
