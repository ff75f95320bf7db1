// Package op defines the operations exchanged between participants of a room.
package op

import (
	"github.com/astromechza/sketchroom/pkg/shape"
)

type Kind string

const (
	KindAdd    Kind = "add"
	KindModify Kind = "modify"
	KindRemove Kind = "remove"
	KindMove   Kind = "move"
	KindClear  Kind = "clear"
)

// Operation is one mutation intent against a room's shape collection. Add carries the
// full shape; modify, remove and move reference a shape by id.
type Operation struct {
	Kind  Kind
	Shape shape.Shape
	ID    string
	Patch shape.Patch
	DX    float64
	DY    float64
}

func Add(s shape.Shape) Operation {
	return Operation{Kind: KindAdd, Shape: s.Clone(), ID: s.ID}
}

func Modify(id string, p shape.Patch) Operation {
	return Operation{Kind: KindModify, ID: id, Patch: p}
}

func Remove(id string) Operation {
	return Operation{Kind: KindRemove, ID: id}
}

func Move(id string, dx, dy float64) Operation {
	return Operation{Kind: KindMove, ID: id, DX: dx, DY: dy}
}

func Clear() Operation {
	return Operation{Kind: KindClear}
}

// Target returns the id of the shape the operation touches, or "" for clear.
func (o Operation) Target() string {
	if o.Kind == KindAdd {
		return o.Shape.ID
	}
	return o.ID
}
