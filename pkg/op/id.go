package op

import (
	"github.com/google/uuid"

	"github.com/astromechza/sketchroom/pkg/shape"
)

// NewID returns a random shape id. Ids are generated independently on every client, so
// they come from uuid v4 rather than any counter.
func NewID() string {
	return uuid.NewString()
}

// FromGesture turns a finished drawing gesture into the single add operation that
// publishes it, assigning a fresh id.
func FromGesture(s shape.Shape) Operation {
	return Add(s.WithID(NewID()))
}

// FromDrag turns a completed drag into one move carrying the total delta.
func FromDrag(id string, dx, dy float64) Operation {
	return Move(id, dx, dy)
}
