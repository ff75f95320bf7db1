package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/shape"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{not json`,
		"missing type": `{"roomId":"r1"}`,
		"unknown type": `{"type":"shape-exploded","roomId":"r1"}`,
		"array":        `[1,2,3]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeJoin(t *testing.T) {
	env, err := Decode([]byte(`{"type":"join_room","roomId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, JoinRoom("r1"), env)
	assert.Equal(t, "r1", env.Room())
}

func TestRoomFallsBackToPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"canvas-cleared","payload":{"roomId":"r9"}}`))
	require.NoError(t, err)
	assert.Equal(t, "r9", env.Room())

	env, err = Decode([]byte(`{"type":"canvas-cleared","payload":{"roomId":12}}`))
	require.NoError(t, err)
	assert.Equal(t, "12", env.Room())

	env, err = Decode([]byte(`{"type":"canvas-cleared"}`))
	require.NoError(t, err)
	assert.Equal(t, "", env.Room())
}

func TestOpRoundTrip(t *testing.T) {
	ops := []op.Operation{
		op.Add(shape.Rect(10, 10, 40, 20).WithID("s1")),
		op.Add(shape.Pencil(shape.Point{X: 1, Y: 2}, shape.Point{X: 3, Y: 4}).WithID("p1")),
		op.Modify("s1", shape.Patch{Width: shape.Float(5)}),
		op.Remove("s1"),
		op.Move("s1", 5, 5),
		op.Clear(),
	}
	for _, o := range ops {
		t.Run(string(o.Kind), func(t *testing.T) {
			env, err := EncodeOp("r1", o)
			require.NoError(t, err)
			raw, err := Encode(env)
			require.NoError(t, err)

			decoded, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, "r1", decoded.Room())
			got, err := DecodeOp(decoded)
			require.NoError(t, err)
			assert.Equal(t, o, got)
		})
	}
}

func TestEncodeOpWireForm(t *testing.T) {
	env, err := EncodeOp("r1", op.Add(shape.Pencil(shape.Point{X: 1, Y: 2}).WithID("p1")))
	require.NoError(t, err)
	assert.Equal(t, TypePathCreated, env.Type)
	assert.JSONEq(t, `{"path":{"id":"p1","type":"pencil","path":[{"x":1,"y":2}]}}`, string(env.Payload))

	env, err = EncodeOp("r1", op.Move("s1", 5, 6))
	require.NoError(t, err)
	assert.Equal(t, TypeObjectMoved, env.Type)
	assert.JSONEq(t, `{"objectId":"s1","dx":5,"dy":6}`, string(env.Payload))

	_, err = EncodeOp("r1", op.Add(shape.Rect(0, 0, 1, 1)))
	assert.Error(t, err, "adds need an id")
}

func TestDecodeOpRejectsBadPayloads(t *testing.T) {
	for name, env := range map[string]Envelope{
		"add without object":       {Type: TypeObjectAdded, Payload: json.RawMessage(`{}`)},
		"add without id":           {Type: TypeObjectAdded, Payload: json.RawMessage(`{"object":{"type":"rect"}}`)},
		"add with bad shape":       {Type: TypeObjectAdded, Payload: json.RawMessage(`{"object":{"id":"a","type":"blob"}}`)},
		"path-created with rect":   {Type: TypePathCreated, Payload: json.RawMessage(`{"path":{"id":"a","type":"rect"}}`)},
		"remove without id":        {Type: TypeObjectRemoved, Payload: json.RawMessage(`{}`)},
		"move with string delta":   {Type: TypeObjectMoved, Payload: json.RawMessage(`{"objectId":"a","dx":"5"}`)},
		"modify without patch":     {Type: TypeObjectModified, Payload: json.RawMessage(`{"objectId":"a"}`)},
		"modify missing payload":   {Type: TypeObjectModified},
		"chat is not an operation": {Type: TypeChat, Payload: json.RawMessage(`{"message":"hi"}`)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOp(env)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestChat(t *testing.T) {
	env, err := Chat("r1", "hello")
	require.NoError(t, err)
	msg, err := DecodeChat(env.WithUser("u1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)

	_, err = DecodeChat(Envelope{Type: TypeChat})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestContentClassification(t *testing.T) {
	assert.True(t, IsContent(TypeChat))
	assert.False(t, IsShapeOp(TypeChat))
	assert.True(t, IsShapeOp(TypeObjectMoved))
	assert.False(t, IsContent(TypeJoinRoom))
}
