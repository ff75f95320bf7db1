package op

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/astromechza/sketchroom/pkg/shape"
)

func TestFromGestureAssignsFreshIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		o := FromGesture(shape.Rect(0, 0, 1, 1))
		assert.Equal(t, KindAdd, o.Kind)
		assert.NotEmpty(t, o.Shape.ID)
		assert.Equal(t, o.Shape.ID, o.Target())
		assert.False(t, seen[o.Shape.ID], "duplicate id %s", o.Shape.ID)
		seen[o.Shape.ID] = true
	}
}

func TestAddCopiesPath(t *testing.T) {
	s := shape.Pencil(shape.Point{X: 1, Y: 1}, shape.Point{X: 2, Y: 2}).WithID("p")
	o := Add(s)
	s.Path[0].X = 100
	assert.Equal(t, 1.0, o.Shape.Path[0].X)
}

func TestFromDrag(t *testing.T) {
	assert.Equal(t, Operation{Kind: KindMove, ID: "s1", DX: 5, DY: -2}, FromDrag("s1", 5, -2))
	assert.Equal(t, "", Clear().Target())
}
