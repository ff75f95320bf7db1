package relay

import (
	"log/slog"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/protocol"
)

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evContent
	evDeparted
)

type event struct {
	kind eventKind
	conn *conn
	env  protocol.Envelope
	typ  string
	op   *op.Operation
}

type room struct {
	id    string
	relay *Relay
	inbox chan event
	// refs counts events enqueued but not yet handled; guarded by relay.mu
	refs int
}

func newRoom(r *Relay, id string) *room {
	return &room{id: id, relay: r, inbox: make(chan event, r.cfg.InboxSize)}
}

func (rm *room) run() {
	defer rm.relay.wg.Done()
	slog.Debug("room dispatcher started", "room", rm.id)
	for ev := range rm.inbox {
		rm.handle(ev)
		if rm.relay.release(rm) {
			slog.Debug("room dispatcher stopped", "room", rm.id)
			return
		}
	}
}

func (rm *room) handle(ev event) {
	reg := rm.relay.registry
	c := ev.conn
	switch ev.kind {
	case evJoin:
		if !reg.JoinRoom(c.id, rm.id) {
			return
		}
		count := reg.Count(rm.id)
		slog.Info("joined room", "room", rm.id, "conn", c.id, "user", c.userID, "count", count)
		c.sendEnvelope(protocol.JoinedRoom(rm.id, c.userID, count))
		rm.broadcast(c, protocol.UserJoined(rm.id, c.userID))
	case evLeave:
		if !reg.LeaveRoom(c.id, rm.id) {
			return
		}
		slog.Info("left room", "room", rm.id, "conn", c.id, "user", c.userID)
		rm.broadcast(c, protocol.UserLeft(rm.id, c.userID))
	case evDeparted:
		if !reg.LeaveRoom(c.id, rm.id) {
			return
		}
		slog.Info("left room", "room", rm.id, "conn", c.id, "user", c.userID, "reason", "disconnected")
		rm.broadcast(c, protocol.UserLeft(rm.id, c.userID))
	case evContent:
		if !reg.IsMember(c.id, rm.id) {
			slog.Warn("dropping content from non-member", "room", rm.id, "conn", c.id, "user", c.userID, "type", ev.typ)
			return
		}
		env := ev.env
		if ev.op != nil && rm.relay.recorder != nil {
			env.Seq = rm.relay.recorder.Record(rm.id, *ev.op)
		}
		rm.broadcast(c, env)
	}
}

func (rm *room) broadcast(sender *conn, env protocol.Envelope) {
	frame, err := protocol.Encode(env)
	if err != nil {
		slog.Error("failed to encode", "type", env.Type, "err", err)
		return
	}
	rm.fanout(sender, frame)
}

// fanout queues frame for every member except sender.
func (rm *room) fanout(sender *conn, frame []byte) {
	for _, m := range rm.relay.registry.Members(rm.id) {
		if m.ID() == sender.id {
			continue
		}
		if mc, ok := m.(*conn); ok {
			mc.send(frame)
		}
	}
}
