package canvas

import (
	"math"
	"strings"

	"github.com/fogleman/gg"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/render"
	"github.com/astromechza/sketchroom/pkg/shape"
)

// Origin says where an operation came from. Only Local operations are transmitted.
type Origin int

const (
	Local Origin = iota
	Remote
)

func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

type Tool string

const (
	ToolSelect Tool = "select"
	ToolRect   Tool = "rect"
	ToolCircle Tool = "circle"
	ToolPencil Tool = "pencil"
	ToolText   Tool = "text"
)

type Mode int

const (
	Idle Mode = iota
	Drawing
	Dragging
)

const DefaultFontSize = 20

// Engine is the single owner of a client's shape collection. It is driven from one
// goroutine; see client.Session for the event loop that does so.
type Engine struct {
	shapes   *Collection
	transmit func(op.Operation)
	measurer shape.Measurer

	tool Tool
	mode Mode

	start shape.Point
	last  shape.Point
	path  []shape.Point

	selected       string
	dragDX, dragDY float64
}

type Option func(*Engine)

func WithMeasurer(m shape.Measurer) Option {
	return func(e *Engine) { e.measurer = m }
}

// NewEngine returns an engine that hands every Local operation to transmit.
func NewEngine(transmit func(op.Operation), opts ...Option) *Engine {
	if transmit == nil {
		transmit = func(op.Operation) {}
	}
	e := &Engine{
		shapes:   NewCollection(),
		transmit: transmit,
		measurer: shape.DefaultMeasurer(),
		tool:     ToolSelect,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply mutates the collection and, for Local operations that changed something,
// transmits them. A Local clear is always transmitted since peers may still hold shapes
// this view lacks. Local and Remote operations share this one mutation path.
func (e *Engine) Apply(o op.Operation, origin Origin) bool {
	changed := e.shapes.Apply(o)
	if e.selected != "" {
		if _, ok := e.shapes.Get(e.selected); !ok {
			e.selected = ""
			if e.mode == Dragging {
				e.mode = Idle
			}
		}
	}
	if origin == Local && (changed || o.Kind == op.KindClear) {
		e.transmit(o)
	}
	return changed
}

// ApplyAll applies ops in order.
func (e *Engine) ApplyAll(ops []op.Operation, origin Origin) {
	for _, o := range ops {
		e.Apply(o, origin)
	}
}

func (e *Engine) Tool() Tool       { return e.tool }
func (e *Engine) Mode() Mode       { return e.mode }
func (e *Engine) Selected() string { return e.selected }
func (e *Engine) Len() int         { return e.shapes.Len() }

func (e *Engine) Shapes() []shape.Shape {
	return e.shapes.Shapes()
}

func (e *Engine) Get(id string) (shape.Shape, bool) {
	return e.shapes.Get(id)
}

// SetTool switches tools and abandons any gesture in progress. A drag already applied
// locally is published first so peers do not miss it.
func (e *Engine) SetTool(t Tool) {
	if e.mode == Dragging {
		e.finishDrag()
	}
	e.tool = t
	e.mode = Idle
	e.path = nil
	e.selected = ""
}

// Reset drops every shape and gesture, as when leaving a room.
func (e *Engine) Reset() {
	e.shapes.Reset()
	e.mode = Idle
	e.path = nil
	e.selected = ""
	e.dragDX, e.dragDY = 0, 0
}

func (e *Engine) PointerDown(p shape.Point) {
	if e.mode != Idle {
		return
	}
	switch e.tool {
	case ToolSelect:
		id, ok := e.shapes.TopmostAt(e.measurer, p)
		if !ok {
			e.selected = ""
			return
		}
		e.selected = id
		e.mode = Dragging
		e.last = p
		e.dragDX, e.dragDY = 0, 0
	case ToolRect, ToolCircle, ToolPencil:
		e.mode = Drawing
		e.start, e.last = p, p
		e.path = []shape.Point{p}
	case ToolText:
		e.PlaceText(p)
	}
}

// PointerMove updates local state only: drags translate the selected shape and drawing
// gestures extend the preview. Nothing is transmitted.
func (e *Engine) PointerMove(p shape.Point) {
	switch e.mode {
	case Dragging:
		dx, dy := p.X-e.last.X, p.Y-e.last.Y
		e.last = p
		if dx == 0 && dy == 0 {
			return
		}
		if e.shapes.Apply(op.Move(e.selected, dx, dy)) {
			e.dragDX += dx
			e.dragDY += dy
		}
	case Drawing:
		if e.tool == ToolText || p == e.last {
			return
		}
		e.last = p
		if e.tool == ToolPencil {
			e.path = append(e.path, p)
		}
	}
}

func (e *Engine) PointerUp(p shape.Point) {
	switch e.mode {
	case Dragging:
		e.PointerMove(p)
		e.finishDrag()
		e.mode = Idle
	case Drawing:
		if e.tool == ToolText {
			return
		}
		e.PointerMove(p)
		s, ok := e.gestureShape()
		e.mode = Idle
		e.path = nil
		if ok {
			e.Apply(op.FromGesture(s), Local)
		}
	}
}

func (e *Engine) finishDrag() {
	dx, dy := e.dragDX, e.dragDY
	e.dragDX, e.dragDY = 0, 0
	if dx == 0 && dy == 0 {
		return
	}
	if _, ok := e.shapes.Get(e.selected); !ok {
		return
	}
	// already applied frame by frame, so only transmit
	e.transmit(op.FromDrag(e.selected, dx, dy))
}

// PlaceText starts a text gesture anchored at p.
func (e *Engine) PlaceText(p shape.Point) {
	if e.mode != Idle {
		return
	}
	e.mode = Drawing
	e.start = p
}

// CommitText finishes a text gesture. Blank text commits nothing.
func (e *Engine) CommitText(body string) {
	if e.mode != Drawing || e.tool != ToolText {
		return
	}
	e.mode = Idle
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	s := shape.Text(e.start.X, e.start.Y+DefaultFontSize, body, DefaultFontSize)
	e.Apply(op.FromGesture(s), Local)
}

func (e *Engine) CancelText() {
	if e.mode == Drawing && e.tool == ToolText {
		e.mode = Idle
	}
}

// gestureShape builds the shape described by the current drawing gesture.
func (e *Engine) gestureShape() (shape.Shape, bool) {
	w, h := e.last.X-e.start.X, e.last.Y-e.start.Y
	switch e.tool {
	case ToolRect:
		if w == 0 && h == 0 {
			return shape.Shape{}, false
		}
		return shape.Rect(e.start.X, e.start.Y, w, h), true
	case ToolCircle:
		if w == 0 && h == 0 {
			return shape.Shape{}, false
		}
		return shape.Circle(e.start.X+w/2, e.start.Y+h/2, math.Hypot(w, h)/2), true
	case ToolPencil:
		if len(e.path) < 2 {
			return shape.Shape{}, false
		}
		return shape.Pencil(e.path...), true
	}
	return shape.Shape{}, false
}

// Scene is the pure input of a redraw.
func (e *Engine) Scene() render.Scene {
	scene := render.Scene{Shapes: e.shapes.Shapes(), Selected: e.selected}
	if e.mode == Drawing && e.tool != ToolText {
		if s, ok := e.gestureShape(); ok {
			scene.Preview = &s
		}
	}
	return scene
}

// Redraw paints the current scene onto dc.
func (e *Engine) Redraw(dc *gg.Context) {
	render.Draw(dc, e.Scene())
}
