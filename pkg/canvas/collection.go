// Package canvas owns a participant's shape collection and the gesture state machine
// that turns pointer input into operations.
package canvas

import (
	"golang.org/x/exp/slices"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/shape"
)

// Collection is an ordered set of shapes keyed by id; insertion order is z-order. It is
// not safe for concurrent use.
type Collection struct {
	order []string
	byID  map[string]shape.Shape
}

func NewCollection() *Collection {
	return &Collection{byID: make(map[string]shape.Shape)}
}

// Apply mutates the collection and reports whether anything changed. Operations that
// reference an unknown id are no-ops.
func (c *Collection) Apply(o op.Operation) bool {
	switch o.Kind {
	case op.KindAdd:
		s := o.Shape
		if s.ID == "" {
			return false
		}
		if _, ok := c.byID[s.ID]; !ok {
			c.order = append(c.order, s.ID)
		}
		c.byID[s.ID] = s.Clone()
		return true
	case op.KindModify:
		s, ok := c.byID[o.ID]
		if !ok {
			return false
		}
		c.byID[o.ID] = o.Patch.ApplyTo(s)
		return true
	case op.KindRemove:
		if _, ok := c.byID[o.ID]; !ok {
			return false
		}
		delete(c.byID, o.ID)
		if i := slices.Index(c.order, o.ID); i >= 0 {
			c.order = slices.Delete(c.order, i, i+1)
		}
		return true
	case op.KindMove:
		s, ok := c.byID[o.ID]
		if !ok {
			return false
		}
		c.byID[o.ID] = shape.Translate(s, o.DX, o.DY)
		return true
	case op.KindClear:
		if len(c.order) == 0 {
			return false
		}
		c.Reset()
		return true
	}
	return false
}

func (c *Collection) Reset() {
	c.order = nil
	c.byID = make(map[string]shape.Shape)
}

func (c *Collection) Get(id string) (shape.Shape, bool) {
	s, ok := c.byID[id]
	if !ok {
		return shape.Shape{}, false
	}
	return s.Clone(), true
}

func (c *Collection) Len() int {
	return len(c.order)
}

// Shapes returns copies of every shape in z-order.
func (c *Collection) Shapes() []shape.Shape {
	out := make([]shape.Shape, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

// TopmostAt returns the id of the highest shape under p.
func (c *Collection) TopmostAt(m shape.Measurer, p shape.Point) (string, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		if shape.HitTestWith(m, p, c.byID[c.order[i]]) {
			return c.order[i], true
		}
	}
	return "", false
}

// Load replaces the contents with shapes, keeping their order.
func (c *Collection) Load(shapes []shape.Shape) {
	c.Reset()
	for _, s := range shapes {
		c.Apply(op.Add(s))
	}
}
