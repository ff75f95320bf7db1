package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/sketchroom/pkg/protocol"
)

type conn struct {
	id     string
	userID string
	relay  *Relay
	ws     *websocket.Conn

	outMu     sync.Mutex
	out       chan []byte
	outClosed bool

	closeOnce sync.Once
	closing   atomic.Bool
}

func newConn(r *Relay, ws *websocket.Conn, id, userID string) *conn {
	return &conn{
		id:     id,
		userID: userID,
		relay:  r,
		ws:     ws,
		out:    make(chan []byte, r.cfg.SendBuffer),
	}
}

func (c *conn) ID() string     { return c.id }
func (c *conn) UserID() string { return c.userID }

// send queues a frame without blocking. A full queue means the peer is not keeping up,
// and the connection is closed.
func (c *conn) send(frame []byte) {
	c.outMu.Lock()
	if c.outClosed {
		c.outMu.Unlock()
		return
	}
	select {
	case c.out <- frame:
		c.outMu.Unlock()
	default:
		c.outMu.Unlock()
		slog.Warn("closing slow consumer", "conn", c.id, "user", c.userID)
		go c.close()
	}
}

func (c *conn) sendEnvelope(env protocol.Envelope) {
	frame, err := protocol.Encode(env)
	if err != nil {
		slog.Error("failed to encode", "type", env.Type, "err", err)
		return
	}
	c.send(frame)
}

// close runs the close sequence once: stop reading, mark the connection departing and queue
// a departure on every joined room behind anything this connection already sent, then end
// the writer. Each room's dispatcher drops the membership when it reaches the departure.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.ws.SetReadDeadline(time.Now())
		for _, roomID := range c.relay.registry.Depart(c.id) {
			c.relay.dispatch(roomID, event{kind: evDeparted, conn: c})
		}
		c.outMu.Lock()
		c.outClosed = true
		close(c.out)
		c.outMu.Unlock()
		c.relay.forget(c)
		slog.Info("disconnected", "conn", c.id, "user", c.userID)
	})
}

func (c *conn) readLoop() {
	defer c.relay.wg.Done()
	defer c.close()
	c.ws.SetReadLimit(c.relay.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.relay.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.relay.cfg.PongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("failed to read", "conn", c.id, "user", c.userID, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.relay.cfg.PongWait))
		c.receive(raw)
	}
}

// receive classifies one inbound frame and queues it on its room in receipt order.
func (c *conn) receive(raw []byte) {
	if c.closing.Load() {
		return
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("dropping malformed message", "conn", c.id, "user", c.userID, "err", err)
		return
	}
	roomID := env.Room()
	if roomID == "" {
		slog.Warn("dropping message without room", "conn", c.id, "user", c.userID, "type", env.Type)
		return
	}
	switch {
	case env.Type == protocol.TypeJoinRoom:
		c.relay.dispatch(roomID, event{kind: evJoin, conn: c})
	case env.Type == protocol.TypeLeaveRoom:
		c.relay.dispatch(roomID, event{kind: evLeave, conn: c})
	case protocol.IsContent(env.Type):
		ev := event{kind: evContent, conn: c, typ: env.Type}
		if env.Type == protocol.TypeChat {
			if _, err := protocol.DecodeChat(env); err != nil {
				slog.Warn("dropping malformed message", "conn", c.id, "user", c.userID, "err", err)
				return
			}
		} else {
			o, err := protocol.DecodeOp(env)
			if err != nil {
				slog.Warn("dropping malformed message", "conn", c.id, "user", c.userID, "err", err)
				return
			}
			ev.op = &o
		}
		env.RoomID = roomID
		env.Seq = 0
		ev.env = env.WithUser(c.userID)
		c.relay.dispatch(roomID, ev)
	default:
		slog.Warn("dropping unexpected message", "conn", c.id, "user", c.userID, "type", env.Type)
	}
}

func (c *conn) writeLoop() {
	defer c.relay.wg.Done()
	defer c.ws.Close()
	ticker := time.NewTicker(c.relay.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.relay.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("failed to write", "conn", c.id, "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.relay.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("failed to ping", "conn", c.id, "err", err)
				c.close()
				return
			}
		}
	}
}
