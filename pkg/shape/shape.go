// Package shape holds the geometry kinds that make up a drawing and the hit-testing
// math used to select them. Nothing in here does I/O.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindPencil Kind = "pencil"
	KindText   Kind = "text"
)

var ErrInvalidShape = errors.New("invalid shape")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is a tagged union over the geometry kinds. Only the fields belonging to Kind are
// meaningful; the rest stay zero.
type Shape struct {
	ID   string
	Kind Kind

	// rect, and the anchor of text
	X, Y, Width, Height float64

	CenterX, CenterY, Radius float64

	Path []Point

	Text     string
	FontSize float64
}

func Rect(x, y, w, h float64) Shape {
	return Shape{Kind: KindRect, X: x, Y: y, Width: w, Height: h}
}

func Circle(cx, cy, r float64) Shape {
	return Shape{Kind: KindCircle, CenterX: cx, CenterY: cy, Radius: r}
}

func Pencil(points ...Point) Shape {
	return Shape{Kind: KindPencil, Path: append([]Point(nil), points...)}
}

func Text(x, y float64, body string, fontSize float64) Shape {
	return Shape{Kind: KindText, X: x, Y: y, Text: body, FontSize: fontSize}
}

// WithID returns a copy of s carrying the given id.
func (s Shape) WithID(id string) Shape {
	c := s.Clone()
	c.ID = id
	return c
}

// Clone returns a deep copy so the pencil path can be mutated independently.
func (s Shape) Clone() Shape {
	if s.Path != nil {
		s.Path = append([]Point(nil), s.Path...)
	}
	return s
}

func (s Shape) Validate() error {
	switch s.Kind {
	case KindRect, KindCircle, KindText:
		return nil
	case KindPencil:
		if len(s.Path) == 0 {
			return fmt.Errorf("%w: pencil without points", ErrInvalidShape)
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidShape)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidShape, s.Kind)
	}
}

type rectJSON struct {
	ID     string  `json:"id,omitempty"`
	Type   Kind    `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type circleJSON struct {
	ID      string  `json:"id,omitempty"`
	Type    Kind    `json:"type"`
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Radius  float64 `json:"radius"`
}

type pencilJSON struct {
	ID   string  `json:"id,omitempty"`
	Type Kind    `json:"type"`
	Path []Point `json:"path"`
}

type textJSON struct {
	ID       string  `json:"id,omitempty"`
	Type     Kind    `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
}

// MarshalJSON writes the flat wire form, emitting only the fields of the shape's kind.
func (s Shape) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindRect:
		return json.Marshal(rectJSON{ID: s.ID, Type: s.Kind, X: s.X, Y: s.Y, Width: s.Width, Height: s.Height})
	case KindCircle:
		return json.Marshal(circleJSON{ID: s.ID, Type: s.Kind, CenterX: s.CenterX, CenterY: s.CenterY, Radius: s.Radius})
	case KindPencil:
		path := s.Path
		if path == nil {
			path = []Point{}
		}
		return json.Marshal(pencilJSON{ID: s.ID, Type: s.Kind, Path: path})
	case KindText:
		return json.Marshal(textJSON{ID: s.ID, Type: s.Kind, X: s.X, Y: s.Y, Text: s.Text, FontSize: s.FontSize})
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidShape, s.Kind)
	}
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string  `json:"id"`
		Type     Kind    `json:"type"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
		CenterX  float64 `json:"centerX"`
		CenterY  float64 `json:"centerY"`
		Radius   float64 `json:"radius"`
		Path     []Point `json:"path"`
		Text     string  `json:"text"`
		FontSize float64 `json:"fontSize"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Shape{ID: raw.ID, Kind: raw.Type}
	switch raw.Type {
	case KindRect:
		out.X, out.Y, out.Width, out.Height = raw.X, raw.Y, raw.Width, raw.Height
	case KindCircle:
		out.CenterX, out.CenterY, out.Radius = raw.CenterX, raw.CenterY, raw.Radius
	case KindPencil:
		out.Path = raw.Path
	case KindText:
		out.X, out.Y, out.Text, out.FontSize = raw.X, raw.Y, raw.Text, raw.FontSize
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}
