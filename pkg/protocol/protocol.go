// Package protocol is the JSON wire format spoken over the room websocket.
//
// Every frame is an Envelope discriminated by its type field. Content frames carry a
// type-specific payload which this package maps to and from op.Operation values.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types.
const (
	TypeJoinRoom   = "join_room"
	TypeLeaveRoom  = "leave_room"
	TypeJoinedRoom = "joined_room"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"

	TypeChat           = "chat"
	TypeObjectAdded    = "object-added"
	TypeObjectModified = "object-modified"
	TypeObjectRemoved  = "object-removed"
	TypeObjectMoved    = "object-moved"
	TypePathCreated    = "path-created"
	TypeCanvasCleared  = "canvas-cleared"
)

// ErrMalformed marks a frame that is not JSON, has no type, has an unknown type, or has a
// payload that does not fit its type.
var ErrMalformed = errors.New("malformed message")

type Envelope struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	UserCount int             `json:"userCount,omitempty"`
	// Seq is the relay's position for a shape operation in its room's log. Zero means
	// unsequenced.
	Seq       int64           `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var known = map[string]bool{
	TypeJoinRoom:       true,
	TypeLeaveRoom:      true,
	TypeJoinedRoom:     true,
	TypeUserJoined:     true,
	TypeUserLeft:       true,
	TypeChat:           true,
	TypeObjectAdded:    true,
	TypeObjectModified: true,
	TypeObjectRemoved:  true,
	TypeObjectMoved:    true,
	TypePathCreated:    true,
	TypeCanvasCleared:  true,
}

// IsContent reports whether t is relayed to the other members of a room.
func IsContent(t string) bool {
	switch t {
	case TypeChat, TypeObjectAdded, TypeObjectModified, TypeObjectRemoved,
		TypeObjectMoved, TypePathCreated, TypeCanvasCleared:
		return true
	}
	return false
}

// IsShapeOp reports whether t carries an operation against the shape collection.
func IsShapeOp(t string) bool {
	return IsContent(t) && t != TypeChat
}

// Decode parses a frame, rejecting anything without a recognized type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !known[env.Type] {
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return env, nil
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Room returns the room a frame addresses. Older clients put roomId inside the payload.
func (e Envelope) Room() string {
	if e.RoomID != "" {
		return e.RoomID
	}
	if len(e.Payload) == 0 {
		return ""
	}
	var inner struct {
		RoomID json.RawMessage `json:"roomId"`
	}
	if err := json.Unmarshal(e.Payload, &inner); err != nil || len(inner.RoomID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(inner.RoomID, &s); err == nil {
		return s
	}
	// numeric room ids
	return string(inner.RoomID)
}

// WithUser returns a copy tagged with the sending user.
func (e Envelope) WithUser(userID string) Envelope {
	e.UserID = userID
	return e
}

func JoinRoom(roomID string) Envelope {
	return Envelope{Type: TypeJoinRoom, RoomID: roomID}
}

func LeaveRoom(roomID string) Envelope {
	return Envelope{Type: TypeLeaveRoom, RoomID: roomID}
}

func JoinedRoom(roomID, userID string, count int) Envelope {
	return Envelope{Type: TypeJoinedRoom, RoomID: roomID, UserID: userID, UserCount: count}
}

func UserJoined(roomID, userID string) Envelope {
	return Envelope{Type: TypeUserJoined, RoomID: roomID, UserID: userID}
}

func UserLeft(roomID, userID string) Envelope {
	return Envelope{Type: TypeUserLeft, RoomID: roomID, UserID: userID}
}
