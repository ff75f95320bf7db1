package persist

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Snapshot)}
}

func (m *MemoryStore) Load(ctx context.Context, roomID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot.Clone()
	if prev, ok := m.rooms[s.RoomID]; ok {
		s.Revision = prev.Revision
	}
	s.Revision++
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	m.rooms[s.RoomID] = s
	m.saves++
	return nil
}

// Saves reports how many saves have completed.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
