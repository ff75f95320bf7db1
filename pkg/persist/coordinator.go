package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/astromechza/sketchroom/pkg/canvas"
	"github.com/astromechza/sketchroom/pkg/op"
)

const (
	DefaultWindow       = 2 * time.Second
	DefaultHistoryLimit = 100
	defaultTimeout      = 10 * time.Second
)

// Timer is the part of *time.Timer the coordinator needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once d has elapsed.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type saveState int

const (
	idle saveState = iota
	scheduled
	inFlight
)

func (s saveState) String() string {
	switch s {
	case scheduled:
		return "scheduled"
	case inFlight:
		return "in-flight"
	}
	return "idle"
}

type saveSlot struct {
	state    saveState
	dirty    bool
	gen      uint64
	timer    Timer
	producer func() *Snapshot
}

// Entry is one operation in a room's replay log. Seq counts up from 1 for operations recorded
// by this process; entries loaded from the store predate it and carry 0.
type Entry struct {
	Seq int64
	Op  op.Operation
}

type roomState struct {
	ready   chan struct{}
	loaded  bool
	seq     int64
	pending []Entry
	shapes  *canvas.Collection
	history []Entry
}

// Coordinator holds the live state of every touched room and writes it back to a Store. A
// room's saves follow idle -> scheduled -> in-flight -> idle: triggers while scheduled share
// the fixed deadline, and any triggers while in flight produce exactly one follow-up save.
// Nothing on the Record path waits for storage.
type Coordinator struct {
	store     Store
	window    time.Duration
	limit     int
	timeout   time.Duration
	afterFunc AfterFunc

	mu      sync.Mutex
	changed *sync.Cond
	closed  bool
	rooms   map[string]*roomState
	saves   map[string]*saveSlot
}

type Option func(*Coordinator)

// WithWindow sets the delay between the first unsaved change and its save.
func WithWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.window = d }
}

// WithHistoryLimit bounds the replay log; zero or less keeps everything.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) { c.limit = n }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(c *Coordinator) { c.afterFunc = f }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		window:    DefaultWindow,
		limit:     DefaultHistoryLimit,
		timeout:   defaultTimeout,
		afterFunc: realAfterFunc,
		rooms:     make(map[string]*roomState),
		saves:     make(map[string]*saveSlot),
	}
	c.changed = sync.NewCond(&c.mu)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Record applies o to the room's cached state, appends it to the bounded log and schedules
// a save, returning o's sequence number. The first touch of a room loads it in the
// background; operations recorded before that finishes are applied on top of the stored
// state in order.
func (c *Coordinator) Record(roomID string, o op.Operation) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs := c.roomLocked(roomID)
	rs.seq++
	e := Entry{Seq: rs.seq, Op: o}
	if !rs.loaded {
		rs.pending = append(rs.pending, e)
		return e.Seq
	}
	c.applyLocked(rs, e)
	c.scheduleLocked(roomID, c.producer(roomID))
	return e.Seq
}

// History returns the room's ordered, bounded operation log. Unknown rooms have an empty log.
func (c *Coordinator) History(ctx context.Context, roomID string) ([]Entry, error) {
	rs, err := c.await(ctx, roomID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(rs.history), nil
}

// Snapshot returns the room's current state, including changes not yet saved.
func (c *Coordinator) Snapshot(ctx context.Context, roomID string) (*Snapshot, error) {
	if _, err := c.await(ctx, roomID); err != nil {
		return nil, err
	}
	return c.producer(roomID)(), nil
}

func (c *Coordinator) await(ctx context.Context, roomID string) (*roomState, error) {
	c.mu.Lock()
	rs := c.roomLocked(roomID)
	c.mu.Unlock()
	select {
	case <-rs.ready:
		return rs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) roomLocked(roomID string) *roomState {
	if rs, ok := c.rooms[roomID]; ok {
		return rs
	}
	rs := &roomState{ready: make(chan struct{}), shapes: canvas.NewCollection()}
	c.rooms[roomID] = rs
	go c.load(roomID, rs)
	return rs
}

func (c *Coordinator) load(roomID string, rs *roomState) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	snap, err := c.store.Load(ctx, roomID)
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("failed to load snapshot, starting empty", "room", roomID, "err", err)
	}

	c.mu.Lock()
	if err == nil && snap != nil {
		rs.shapes.Load(snap.Shapes)
		rs.history = make([]Entry, 0, len(snap.History))
		for _, o := range snap.History {
			rs.history = append(rs.history, Entry{Op: o})
		}
		c.trimLocked(rs)
	}
	pending := rs.pending
	rs.pending = nil
	for _, e := range pending {
		c.applyLocked(rs, e)
	}
	if len(pending) > 0 {
		c.scheduleLocked(roomID, c.producer(roomID))
	}
	rs.loaded = true
	close(rs.ready)
	c.changed.Broadcast()
	c.mu.Unlock()
}

func (c *Coordinator) applyLocked(rs *roomState, e Entry) {
	rs.shapes.Apply(e.Op)
	rs.history = append(rs.history, e)
	c.trimLocked(rs)
}

func (c *Coordinator) trimLocked(rs *roomState) {
	if c.limit > 0 && len(rs.history) > c.limit {
		rs.history = slices.Clone(rs.history[len(rs.history)-c.limit:])
	}
}

func (c *Coordinator) producer(roomID string) func() *Snapshot {
	return func() *Snapshot {
		c.mu.Lock()
		defer c.mu.Unlock()
		rs := c.rooms[roomID]
		history := make([]op.Operation, 0, len(rs.history))
		for _, e := range rs.history {
			history = append(history, e.Op)
		}
		return (&Snapshot{
			RoomID:    roomID,
			Shapes:    rs.shapes.Shapes(),
			History:   history,
			UpdatedAt: time.Now(),
		}).Clone()
	}
}

// ScheduleSave arms a save of the room. producer is called, without the coordinator's lock
// held, when the save actually runs, so it always sees the latest state.
func (c *Coordinator) ScheduleSave(roomID string, producer func() *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked(roomID, producer)
}

func (c *Coordinator) scheduleLocked(roomID string, producer func() *Snapshot) {
	if c.closed {
		slog.Warn("dropping save after close", "room", roomID)
		return
	}
	s, ok := c.saves[roomID]
	if !ok {
		s = &saveSlot{}
		c.saves[roomID] = s
	}
	s.producer = producer
	switch s.state {
	case idle:
		c.armLocked(roomID, s)
	case inFlight:
		s.dirty = true
	}
}

func (c *Coordinator) armLocked(roomID string, s *saveSlot) {
	s.state = scheduled
	s.gen++
	gen := s.gen
	s.timer = c.afterFunc(c.window, func() { c.fire(roomID, gen) })
}

// fire runs a scheduled save whose deadline has passed. Stale timers are ignored.
func (c *Coordinator) fire(roomID string, gen uint64) {
	c.mu.Lock()
	s, ok := c.saves[roomID]
	if !ok || s.state != scheduled || s.gen != gen {
		c.mu.Unlock()
		return
	}
	s.state = inFlight
	s.timer = nil
	producer := s.producer
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.runSave(ctx, roomID, producer)
}

func (c *Coordinator) runSave(ctx context.Context, roomID string, producer func() *Snapshot) error {
	snap := producer()
	err := c.store.Save(ctx, snap)
	if err != nil {
		slog.Error("failed to save snapshot", "room", roomID, "err", err)
	} else {
		slog.Debug("saved snapshot", "room", roomID, "shapes", len(snap.Shapes), "history", len(snap.History))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.saves[roomID]
	if s.state == inFlight {
		if s.dirty {
			s.dirty = false
			c.armLocked(roomID, s)
		} else {
			s.state = idle
		}
	}
	c.changed.Broadcast()
	return err
}

// State reports where the room is in its save cycle.
func (c *Coordinator) State(roomID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.saves[roomID]; ok {
		return s.state.String()
	}
	return idle.String()
}

// Cancel drops a scheduled save and any pending follow-up. A save already running finishes.
func (c *Coordinator) Cancel(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.saves[roomID]
	if !ok {
		return
	}
	s.dirty = false
	if s.state == scheduled {
		s.timer.Stop()
		s.timer = nil
		s.gen++
		s.state = idle
	}
}

type dueSave struct {
	roomID   string
	producer func() *Snapshot
}

// Flush runs every scheduled save now and waits for loads and saves in flight, returning
// once nothing is left to write.
func (c *Coordinator) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.changed.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	var errs []error
	c.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return errors.Join(append(errs, err)...)
		}
		busy := false
		for _, rs := range c.rooms {
			if !rs.loaded {
				busy = true
			}
		}
		var due []dueSave
		for id, s := range c.saves {
			switch s.state {
			case scheduled:
				s.timer.Stop()
				s.timer = nil
				s.gen++
				s.state = inFlight
				due = append(due, dueSave{roomID: id, producer: s.producer})
			case inFlight:
				busy = true
			}
		}
		if len(due) == 0 {
			if !busy {
				c.mu.Unlock()
				return errors.Join(errs...)
			}
			c.changed.Wait()
			continue
		}
		c.mu.Unlock()
		for _, d := range due {
			if err := c.runSave(ctx, d.roomID, d.producer); err != nil {
				errs = append(errs, err)
			}
		}
		c.mu.Lock()
	}
}

// Close flushes and stops accepting new work.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
