// Package client is a headless participant: a websocket session that feeds a canvas.Engine
// from one event-loop goroutine.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/sketchroom/pkg/canvas"
	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/protocol"
	"github.com/astromechza/sketchroom/pkg/render"
	"github.com/astromechza/sketchroom/pkg/shape"
)

var ErrClosed = errors.New("session closed")

type Options struct {
	// BaseURL is the server's http url, e.g. http://localhost:8080.
	BaseURL    string
	Token      string
	Room       string
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	Measurer   shape.Measurer
}

// Event is a presence or chat notification.
type Event struct {
	Type      string
	RoomID    string
	UserID    string
	UserCount int
	Message   string
}

// Session owns one connection and one Engine. Only the loop goroutine touches the engine;
// every other goroutine posts closures to it.
type Session struct {
	opts    Options
	baseURL *url.URL
	ws      *websocket.Conn
	engine  *canvas.Engine

	calls  chan func()
	out    chan []byte
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// loop-owned
	room     string
	ready    bool
	readyCh  chan struct{}
	buffered []liveOp
	deferred []func()
}

// liveOp is an operation that arrived over the socket before history was applied.
type liveOp struct {
	seq int64
	op  op.Operation
}

// RoomLog is a room's replay log as served by the history endpoint.
type RoomLog struct {
	Ops []op.Operation
	// Seq is the highest sequence number in the log, 0 when none of it was sequenced.
	Seq int64
}

// Dial connects, joins opts.Room and starts the session's goroutines.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	wsURL := base.JoinPath("ws")
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	q := wsURL.Query()
	q.Set("token", opts.Token)
	wsURL.RawQuery = q.Encode()
	ws, resp, err := opts.Dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	s := &Session{
		opts:    opts,
		baseURL: base,
		ws:      ws,
		calls:   make(chan func(), 64),
		out:     make(chan []byte, 64),
		events:  make(chan Event, 64),
		readyCh: make(chan struct{}),
	}
	var engineOpts []canvas.Option
	if opts.Measurer != nil {
		engineOpts = append(engineOpts, canvas.WithMeasurer(opts.Measurer))
	}
	s.engine = canvas.NewEngine(s.transmit, engineOpts...)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(3)
	go s.loop()
	go s.readLoop()
	go s.writeLoop()

	if opts.Room != "" {
		s.Join(opts.Room)
	}
	return s, nil
}

// Close stops every goroutine and returns once they have all exited.
func (s *Session) Close() error {
	s.cancel()
	err := s.ws.Close()
	s.wg.Wait()
	return err
}

// Done is closed when the session ends, by Close or by losing the connection.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Events delivers presence and chat notifications. Events are dropped when nobody reads.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.calls:
			f()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) post(f func()) bool {
	select {
	case s.calls <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// call runs f on the loop and waits for it.
func (s *Session) call(f func()) error {
	done := make(chan struct{})
	if !s.post(func() { f(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// input runs f on the loop once the current room's history has been applied.
func (s *Session) input(f func()) {
	s.post(func() {
		if !s.ready {
			s.deferred = append(s.deferred, f)
			return
		}
		f()
	})
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.cancel()
	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("failed to read", "err", err)
			}
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("dropping malformed message", "err", err)
			continue
		}
		if !s.post(func() { s.receive(env) }) {
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.out:
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("failed to write", "err", err)
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) sendEnvelope(env protocol.Envelope) {
	frame, err := protocol.Encode(env)
	if err != nil {
		slog.Error("failed to encode", "type", env.Type, "err", err)
		return
	}
	select {
	case s.out <- frame:
	case <-s.ctx.Done():
	}
}

// transmit is the engine's outlet for Local operations. It runs on the loop.
func (s *Session) transmit(o op.Operation) {
	if s.room == "" {
		return
	}
	env, err := protocol.EncodeOp(s.room, o)
	if err != nil {
		slog.Error("failed to encode operation", "kind", o.Kind, "err", err)
		return
	}
	s.sendEnvelope(env)
}

func (s *Session) notify(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Debug("dropping event", "type", ev.Type)
	}
}

func (s *Session) receive(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoinedRoom:
		if env.RoomID == s.room && !s.ready {
			s.fetchHistory(s.room)
		}
		s.notify(Event{Type: env.Type, RoomID: env.RoomID, UserID: env.UserID, UserCount: env.UserCount})
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		s.notify(Event{Type: env.Type, RoomID: env.RoomID, UserID: env.UserID})
	case protocol.TypeChat:
		msg, err := protocol.DecodeChat(env)
		if err != nil {
			slog.Warn("dropping malformed chat", "err", err)
			return
		}
		s.notify(Event{Type: env.Type, RoomID: env.Room(), UserID: env.UserID, Message: msg})
	default:
		if !protocol.IsShapeOp(env.Type) || env.Room() != s.room {
			return
		}
		o, err := protocol.DecodeOp(env)
		if err != nil {
			slog.Warn("dropping malformed operation", "err", err)
			return
		}
		if !s.ready {
			s.buffered = append(s.buffered, liveOp{seq: env.Seq, op: o})
			return
		}
		s.engine.Apply(o, canvas.Remote)
	}
}

type historyResponse struct {
	RoomID   string              `json:"roomId"`
	Messages []protocol.Envelope `json:"messages"`
}

// fetchHistory runs the history request on its own goroutine and posts the result back.
func (s *Session) fetchHistory(roomID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log, err := s.History(s.ctx, roomID)
		s.post(func() { s.applyHistory(roomID, log, err) })
	}()
}

// History requests the room's replay log.
func (s *Session) History(ctx context.Context, roomID string) (RoomLog, error) {
	u := s.baseURL.JoinPath("rooms", roomID, "history")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return RoomLog{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return RoomLog{}, fmt.Errorf("failed to get history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoomLog{}, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RoomLog{}, fmt.Errorf("failed to read history: %w", err)
	}
	log := RoomLog{Ops: make([]op.Operation, 0, len(out.Messages))}
	for _, env := range out.Messages {
		if env.Seq > log.Seq {
			log.Seq = env.Seq
		}
		o, err := protocol.DecodeOp(env)
		if err != nil {
			slog.Warn("skipping bad history entry", "room", roomID, "err", err)
			continue
		}
		log.Ops = append(log.Ops, o)
	}
	return log, nil
}

// applyHistory replays the log and then any live operations that arrived while it was in
// flight. Live operations the log already covers are not applied twice.
func (s *Session) applyHistory(roomID string, log RoomLog, err error) {
	if roomID != s.room || s.ready {
		return
	}
	if err != nil {
		slog.Error("failed to load history, continuing with live operations", "room", roomID, "err", err)
	}
	live := unseen(s.buffered, log.Seq)
	s.engine.ApplyAll(log.Ops, canvas.Remote)
	s.engine.ApplyAll(live, canvas.Remote)
	slog.Info("replayed history", "room", roomID, "history", len(log.Ops), "live", len(live), "shapes", s.engine.Len())
	s.buffered = nil
	s.ready = true
	close(s.readyCh)
	deferred := s.deferred
	s.deferred = nil
	for _, f := range deferred {
		f()
	}
}

// unseen returns the buffered operations numbered after seq, in arrival order. Unsequenced
// operations are always kept.
func unseen(buffered []liveOp, seq int64) []op.Operation {
	out := make([]op.Operation, 0, len(buffered))
	for _, b := range buffered {
		if b.seq != 0 && b.seq <= seq {
			continue
		}
		out = append(out, b.op)
	}
	return out
}

// Join switches to roomID, leaving the current room first.
func (s *Session) Join(roomID string) {
	s.post(func() {
		if s.room == roomID {
			return
		}
		s.leaveRoom()
		s.room = roomID
		s.sendEnvelope(protocol.JoinRoom(roomID))
	})
}

// Leave leaves the current room and clears the canvas.
func (s *Session) Leave() {
	s.post(s.leaveRoom)
}

func (s *Session) leaveRoom() {
	if s.room != "" {
		s.sendEnvelope(protocol.LeaveRoom(s.room))
	}
	s.room = ""
	s.engine.Reset()
	s.ready = false
	s.readyCh = make(chan struct{})
	s.buffered = nil
	s.deferred = nil
}

// WaitReady blocks until the current room's history has been applied.
func (s *Session) WaitReady(ctx context.Context) error {
	var ch chan struct{}
	if err := s.call(func() { ch = s.readyCh }); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Session) SetTool(t canvas.Tool) { s.input(func() { s.engine.SetTool(t) }) }

func (s *Session) PointerDown(p shape.Point) { s.input(func() { s.engine.PointerDown(p) }) }

func (s *Session) PointerMove(p shape.Point) { s.input(func() { s.engine.PointerMove(p) }) }

func (s *Session) PointerUp(p shape.Point) { s.input(func() { s.engine.PointerUp(p) }) }

func (s *Session) CommitText(body string) { s.input(func() { s.engine.CommitText(body) }) }

func (s *Session) CancelText() { s.input(func() { s.engine.CancelText() }) }

// ClearCanvas removes every shape for everyone in the room.
func (s *Session) ClearCanvas() {
	s.input(func() { s.engine.Apply(op.Clear(), canvas.Local) })
}

// DeleteSelected removes the selected shape, if any.
func (s *Session) DeleteSelected() {
	s.input(func() {
		if id := s.engine.Selected(); id != "" {
			s.engine.Apply(op.Remove(id), canvas.Local)
		}
	})
}

func (s *Session) Chat(message string) {
	s.input(func() {
		env, err := protocol.Chat(s.room, message)
		if err != nil {
			slog.Error("failed to encode chat", "err", err)
			return
		}
		s.sendEnvelope(env)
	})
}

// Shapes returns a copy of the current collection.
func (s *Session) Shapes() ([]shape.Shape, error) {
	var out []shape.Shape
	err := s.call(func() { out = s.engine.Shapes() })
	return out, err
}

func (s *Session) Scene() (render.Scene, error) {
	var out render.Scene
	err := s.call(func() { out = s.engine.Scene() })
	return out, err
}

// WritePNG renders the current scene, sized to fit, as PNG.
func (s *Session) WritePNG(w io.Writer, minW, minH int) error {
	scene, err := s.Scene()
	if err != nil {
		return err
	}
	width, height := render.FitSize(scene.Shapes, minW, minH)
	return render.PNG(w, scene, width, height)
}
