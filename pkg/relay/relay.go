// Package relay fans room traffic out between websocket connections. Each room has one
// dispatcher goroutine consuming a FIFO inbox, so every member observes the same order.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/sketchroom/pkg/auth"
	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/registry"
)

var ErrClosed = errors.New("relay closed")

// Recorder sequences every shape operation a room relays and returns its position in the
// room's log, which is stamped on the broadcast copy. It must not wait for storage.
type Recorder interface {
	Record(roomID string, o op.Operation) int64
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Config struct {
	// SendBuffer is the outbound queue length per connection. A connection whose queue is
	// full is closed.
	SendBuffer     int
	InboxSize      int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		InboxSize:      256,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

type Relay struct {
	cfg      Config
	verifier TokenVerifier
	registry *registry.Registry
	recorder Recorder
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	rooms  map[string]*room
	conns  map[string]*conn
	wg     sync.WaitGroup
}

// New returns a relay. recorder may be nil when nothing is persisted.
func New(cfg Config, verifier TokenVerifier, reg *registry.Registry, recorder Recorder) *Relay {
	d := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = d.SendBuffer
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = d.InboxSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = d.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	return &Relay{
		cfg:      cfg,
		verifier: verifier,
		registry: reg,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
		conns: make(map[string]*conn),
	}
}

// ServeHTTP authenticates the request and upgrades it. Requests without a valid token get
// 401 and are never upgraded.
func (r *Relay) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	userID, err := r.verifier.Verify(auth.TokenFromRequest(request))
	if err != nil {
		slog.Warn("rejected connection", "remote", request.RemoteAddr, "err", err)
		http.Error(writer, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		http.Error(writer, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := r.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := newConn(r, ws, uuid.NewString(), userID)
	if err := r.add(c); err != nil {
		slog.Error("failed to register connection", "conn", c.id, "err", err)
		_ = ws.Close()
		return
	}
	slog.Info("connected", "conn", c.id, "user", userID, "remote", request.RemoteAddr)

	go c.writeLoop()
	go c.readLoop()
}

func (r *Relay) add(c *conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.registry.Register(c); err != nil {
		return err
	}
	r.conns[c.id] = c
	// reader and writer, counted under mu so Close waits for them
	r.wg.Add(2)
	return nil
}

func (r *Relay) forget(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c.id)
}

// dispatch appends ev to the room's inbox, starting the room's dispatcher if it is idle.
func (r *Relay) dispatch(roomID string, ev event) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(r, roomID)
		r.rooms[roomID] = rm
		r.wg.Add(1)
		go rm.run()
	}
	rm.refs++
	r.mu.Unlock()
	rm.inbox <- ev
}

// release is called by a dispatcher after each event and reports whether it should stop.
func (r *Relay) release(rm *room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.refs--
	if rm.refs == 0 && r.registry.Count(rm.id) == 0 {
		delete(r.rooms, rm.id)
		return true
	}
	return false
}

// Close disconnects everyone and waits for every connection and room goroutine to end.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	r.wg.Wait()
}
