package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/shape"
)

type objectPayload struct {
	Object *shape.Shape `json:"object,omitempty"`
	Path   *shape.Shape `json:"path,omitempty"`
}

type modifyPayload struct {
	ObjectID string       `json:"objectId"`
	Object   *shape.Patch `json:"object"`
}

type removePayload struct {
	ObjectID string `json:"objectId"`
}

type movePayload struct {
	ObjectID string  `json:"objectId"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// EncodeOp builds the content frame for o. Pencil adds travel as path-created.
func EncodeOp(roomID string, o op.Operation) (Envelope, error) {
	var (
		typ     string
		payload any
	)
	switch o.Kind {
	case op.KindAdd:
		if err := o.Shape.Validate(); err != nil {
			return Envelope{}, err
		}
		if o.Shape.ID == "" {
			return Envelope{}, fmt.Errorf("cannot encode add without shape id")
		}
		s := o.Shape
		if s.Kind == shape.KindPencil {
			typ, payload = TypePathCreated, objectPayload{Path: &s}
		} else {
			typ, payload = TypeObjectAdded, objectPayload{Object: &s}
		}
	case op.KindModify:
		p := o.Patch
		typ, payload = TypeObjectModified, modifyPayload{ObjectID: o.ID, Object: &p}
	case op.KindRemove:
		typ, payload = TypeObjectRemoved, removePayload{ObjectID: o.ID}
	case op.KindMove:
		typ, payload = TypeObjectMoved, movePayload{ObjectID: o.ID, DX: o.DX, DY: o.DY}
	case op.KindClear:
		typ, payload = TypeCanvasCleared, struct{}{}
	default:
		return Envelope{}, fmt.Errorf("cannot encode operation kind %q", o.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return Envelope{Type: typ, RoomID: roomID, Payload: raw}, nil
}

// DecodeOp maps a content frame back to an operation.
func DecodeOp(env Envelope) (op.Operation, error) {
	malformed := func(err error) (op.Operation, error) {
		return op.Operation{}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	switch env.Type {
	case TypeObjectAdded, TypePathCreated:
		var p objectPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return malformed(err)
		}
		s := p.Object
		if env.Type == TypePathCreated {
			s = p.Path
		}
		if s == nil {
			return malformed(fmt.Errorf("missing object"))
		}
		if s.ID == "" {
			return malformed(fmt.Errorf("missing object id"))
		}
		if env.Type == TypePathCreated && s.Kind != shape.KindPencil {
			return malformed(fmt.Errorf("path-created with %q", s.Kind))
		}
		return op.Add(*s), nil
	case TypeObjectModified:
		var p modifyPayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return malformed(err)
		}
		if p.ObjectID == "" || p.Object == nil {
			return malformed(fmt.Errorf("missing objectId or object"))
		}
		return op.Modify(p.ObjectID, *p.Object), nil
	case TypeObjectRemoved:
		var p removePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return malformed(err)
		}
		if p.ObjectID == "" {
			return malformed(fmt.Errorf("missing objectId"))
		}
		return op.Remove(p.ObjectID), nil
	case TypeObjectMoved:
		var p movePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return malformed(err)
		}
		if p.ObjectID == "" {
			return malformed(fmt.Errorf("missing objectId"))
		}
		return op.Move(p.ObjectID, p.DX, p.DY), nil
	case TypeCanvasCleared:
		return op.Clear(), nil
	default:
		return malformed(fmt.Errorf("not a shape operation"))
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, v)
}

func Chat(roomID, message string) (Envelope, error) {
	raw, err := json.Marshal(chatPayload{Message: message})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeChat, RoomID: roomID, Payload: raw}, nil
}

func DecodeChat(env Envelope) (string, error) {
	if env.Type != TypeChat {
		return "", fmt.Errorf("%w: %s is not chat", ErrMalformed, env.Type)
	}
	var p chatPayload
	if err := unmarshalPayload(env.Payload, &p); err != nil {
		return "", fmt.Errorf("%w: chat: %v", ErrMalformed, err)
	}
	return p.Message, nil
}
