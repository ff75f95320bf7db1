// Package persist keeps durable room snapshots and coalesces the writes that produce them.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/protocol"
	"github.com/astromechza/sketchroom/pkg/shape"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the durable state of one room: the reduced shape collection and the bounded,
// ordered operation log that a joining client replays.
type Snapshot struct {
	RoomID    string
	Shapes    []shape.Shape
	History   []op.Operation
	Revision  int64
	UpdatedAt time.Time
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Shapes = make([]shape.Shape, len(s.Shapes))
	for i, sh := range s.Shapes {
		out.Shapes[i] = sh.Clone()
	}
	out.History = make([]op.Operation, len(s.History))
	for i, o := range s.History {
		if o.Kind == op.KindAdd {
			o.Shape = o.Shape.Clone()
		}
		out.History[i] = o
	}
	return &out
}

type Store interface {
	Load(ctx context.Context, roomID string) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// encodeHistory stores the log in its wire form so that replay and persistence share one codec.
func encodeHistory(roomID string, history []op.Operation) ([]byte, error) {
	envelopes := make([]protocol.Envelope, 0, len(history))
	for _, o := range history {
		env, err := protocol.EncodeOp(roomID, o)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history: %w", err)
		}
		envelopes = append(envelopes, env)
	}
	return json.Marshal(envelopes)
}

func decodeHistory(raw []byte) ([]op.Operation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var envelopes []protocol.Envelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	out := make([]op.Operation, 0, len(envelopes))
	for _, env := range envelopes {
		o, err := protocol.DecodeOp(env)
		if err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}
