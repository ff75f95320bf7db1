package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/shape"
)

type fakeTimer struct {
	owner   *fakeTimers
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeTimers only runs callbacks when Fire is called.
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
	windows []time.Duration
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{owner: ft, f: f}
	ft.pending = append(ft.pending, t)
	ft.windows = append(ft.windows, d)
	return t
}

func (ft *fakeTimers) Armed() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Fire runs every armed callback on the calling goroutine and reports how many ran.
func (ft *fakeTimers) Fire() int {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.pending {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	ft.pending = nil
	ft.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

type gatedStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, s *Snapshot) error {
	g.started <- struct{}{}
	<-g.release
	return g.MemoryStore.Save(ctx, s)
}

type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Save(ctx context.Context, s *Snapshot) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.mu.Unlock()
	return f.MemoryStore.Save(ctx, s)
}

func newTestCoordinator(t *testing.T, store Store, opts ...Option) (*Coordinator, *fakeTimers) {
	t.Helper()
	timers := &fakeTimers{}
	c := NewCoordinator(store, append([]Option{WithAfterFunc(timers.AfterFunc)}, opts...)...)
	return c, timers
}

// touch waits for the room's initial load so that later records apply synchronously.
func touch(t *testing.T, c *Coordinator, roomID string) {
	t.Helper()
	_, err := c.History(context.Background(), roomID)
	require.NoError(t, err)
}

func add(id string, x float64) op.Operation {
	return op.Add(shape.Rect(x, x, 10, 10).WithID(id))
}

func TestUnknownRoomHasEmptyHistory(t *testing.T) {
	c, _ := newTestCoordinator(t, NewMemoryStore())
	h, err := c.History(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestTriggersWithinWindowCoalesce(t *testing.T) {
	store := NewMemoryStore()
	c, timers := newTestCoordinator(t, store, WithWindow(time.Second))
	touch(t, c, "r1")

	for i := 0; i < 5; i++ {
		c.Record("r1", add("s1", float64(i)))
	}
	assert.Equal(t, 1, timers.Armed(), "one deadline for the whole burst")
	assert.Equal(t, []time.Duration{time.Second}, timers.windows)
	assert.Equal(t, "scheduled", c.State("r1"))
	assert.Zero(t, store.Saves())

	require.Equal(t, 1, timers.Fire())
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, "idle", c.State("r1"))

	snap, err := store.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, snap.History, 5)
	require.Len(t, snap.Shapes, 1)
	assert.Equal(t, 4.0, snap.Shapes[0].X, "latest state is saved")
}

func TestTriggerDuringSaveCausesOneFollowUp(t *testing.T) {
	store := &gatedStore{MemoryStore: NewMemoryStore(), started: make(chan struct{}), release: make(chan struct{})}
	c, timers := newTestCoordinator(t, store)
	touch(t, c, "r1")

	c.Record("r1", add("s1", 0))
	done := make(chan struct{})
	go func() {
		defer close(done)
		timers.Fire()
	}()
	<-store.started
	assert.Equal(t, "in-flight", c.State("r1"))

	c.Record("r1", op.Move("s1", 1, 1))
	c.Record("r1", op.Move("s1", 1, 1))
	c.Record("r1", op.Move("s1", 1, 1))
	assert.Zero(t, timers.Armed(), "no second save while one is running")

	close(store.release)
	<-done
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, 1, timers.Armed(), "exactly one follow-up")

	go func() { <-store.started }()
	require.Equal(t, 1, timers.Fire())
	assert.Equal(t, 2, store.Saves())
	assert.Zero(t, timers.Armed())

	snap, err := store.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, snap.History, 4)
	assert.Equal(t, 3.0, snap.Shapes[0].X)
}

func TestFailedSaveRetriesOnNextTrigger(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	c, timers := newTestCoordinator(t, store)
	touch(t, c, "r1")

	c.Record("r1", add("s1", 0))
	timers.Fire()
	assert.Zero(t, store.Saves())
	assert.Equal(t, "idle", c.State("r1"))
	assert.Zero(t, timers.Armed())

	c.Record("r1", add("s2", 0))
	timers.Fire()
	assert.Equal(t, 1, store.Saves())
	snap, err := store.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, snap.Shapes, 2)
}

func TestHistoryIsBounded(t *testing.T) {
	c, _ := newTestCoordinator(t, NewMemoryStore(), WithHistoryLimit(3))
	touch(t, c, "r1")
	for i := 0; i < 5; i++ {
		c.Record("r1", add(string(rune('a'+i)), 0))
	}
	h, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].Op.Target())
	assert.Equal(t, "e", h[2].Op.Target())
	assert.Equal(t, []int64{3, 4, 5}, []int64{h[0].Seq, h[1].Seq, h[2].Seq}, "numbering survives truncation")

	snap, err := c.Snapshot(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, snap.Shapes, 5, "truncation only affects the replay log")
}

func TestRecordNumbersPerRoom(t *testing.T) {
	c, _ := newTestCoordinator(t, NewMemoryStore())
	assert.Equal(t, int64(1), c.Record("r1", add("s1", 0)), "numbered while the room is still loading")
	assert.Equal(t, int64(2), c.Record("r1", op.Move("s1", 1, 0)))
	assert.Equal(t, int64(1), c.Record("r2", add("s2", 0)))

	h, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Seq: 1, Op: add("s1", 0)}, {Seq: 2, Op: op.Move("s1", 1, 0)}}, h)
}

func TestCancel(t *testing.T) {
	store := NewMemoryStore()
	c, timers := newTestCoordinator(t, store)
	touch(t, c, "r1")
	c.Record("r1", add("s1", 0))
	c.Cancel("r1")
	assert.Equal(t, "idle", c.State("r1"))
	assert.Zero(t, timers.Fire())
	assert.Zero(t, store.Saves())
}

func TestFlush(t *testing.T) {
	store := NewMemoryStore()
	c, timers := newTestCoordinator(t, store)
	c.Record("r1", add("s1", 0))
	c.Record("r2", add("s2", 0))

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 2, store.Saves())
	assert.Zero(t, timers.Armed())
	assert.Zero(t, timers.Fire())

	for _, room := range []string{"r1", "r2"} {
		snap, err := store.Load(context.Background(), room)
		require.NoError(t, err)
		assert.Len(t, snap.Shapes, 1)
	}
}

func TestFlushGivesUpWhenCancelled(t *testing.T) {
	store := &gatedStore{MemoryStore: NewMemoryStore(), started: make(chan struct{}), release: make(chan struct{})}
	c, timers := newTestCoordinator(t, store)
	touch(t, c, "r1")

	c.Record("r1", add("s1", 0))
	done := make(chan struct{})
	go func() {
		defer close(done)
		timers.Fire()
	}()
	<-store.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Flush(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "a stuck save does not hold the flush")

	close(store.release)
	<-done
	assert.Equal(t, 1, store.Saves())
}

func TestCloseDropsLaterSaves(t *testing.T) {
	store := NewMemoryStore()
	c, timers := newTestCoordinator(t, store)
	touch(t, c, "r1")
	require.NoError(t, c.Close(context.Background()))
	c.Record("r1", add("s1", 0))
	assert.Zero(t, timers.Armed())
}

func TestRehydratesFromStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &Snapshot{
		RoomID:  "r1",
		Shapes:  []shape.Shape{shape.Rect(0, 0, 10, 10).WithID("s1")},
		History: []op.Operation{add("s1", 0)},
	}))

	c, _ := newTestCoordinator(t, store)
	assert.Equal(t, int64(1), c.Record("r1", op.Move("s1", 5, 5)))

	h, err := c.History(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Op: add("s1", 0)}, {Seq: 1, Op: op.Move("s1", 5, 5)}}, h, "stored entries are unsequenced")

	snap, err := c.Snapshot(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, snap.Shapes, 1)
	assert.Equal(t, 5.0, snap.Shapes[0].X)
}

func TestWithRealTimers(t *testing.T) {
	store := NewMemoryStore()
	c := NewCoordinator(store, WithWindow(10*time.Millisecond))
	c.Record("r1", add("s1", 0))
	assert.Eventually(t, func() bool { return store.Saves() == 1 }, 2*time.Second, 5*time.Millisecond)
}
