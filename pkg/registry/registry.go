// Package registry is the process-wide table of live connections and the rooms they
// have joined. It is only reached through its methods; nothing else keeps membership.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

var ErrDuplicateConn = errors.New("connection already registered")

// Conn is the view of a live connection the registry needs.
type Conn interface {
	ID() string
	UserID() string
}

type entry struct {
	conn      Conn
	rooms     map[string]struct{}
	departing bool
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	rooms map[string]map[string]Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]Conn),
	}
}

func (r *Registry) Register(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; ok {
		return ErrDuplicateConn
	}
	r.conns[c.ID()] = &entry{conn: c, rooms: make(map[string]struct{})}
	return nil
}

// Unregister drops the connection and every membership it held, returning the rooms it
// was removed from. Unknown ids return nil.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	left := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		delete(r.rooms[roomID], connID)
		left = append(left, roomID)
	}
	sort.Strings(left)
	return left
}

// Depart marks the connection as going away and returns the rooms it still belongs to.
// A departing connection keeps its memberships until each is dropped with LeaveRoom, but
// cannot join anything new. It is forgotten once its last membership goes, or at once if it
// has none.
func (r *Registry) Depart(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok || e.departing {
		return nil
	}
	e.departing = true
	if len(e.rooms) == 0 {
		delete(r.conns, connID)
		return nil
	}
	out := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// JoinRoom adds a membership and reports whether it is new. Departing connections cannot join.
func (r *Registry) JoinRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok || e.departing {
		return false
	}
	if _, member := e.rooms[roomID]; member {
		return false
	}
	e.rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[roomID] = members
	}
	members[connID] = e.conn
	return true
}

// LeaveRoom removes a membership and reports whether there was one.
func (r *Registry) LeaveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, member := e.rooms[roomID]; !member {
		return false
	}
	delete(e.rooms, roomID)
	delete(r.rooms[roomID], connID)
	if e.departing && len(e.rooms) == 0 {
		delete(r.conns, connID)
	}
	return true
}

func (r *Registry) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Members returns the room's connections ordered by connection id.
func (r *Registry) Members(roomID string) []Conn {
	r.mu.RLock()
	members := make([]Conn, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		members = append(members, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(members, func(a, b Conn) int { return strings.Compare(a.ID(), b.ID()) })
	return members
}

func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Get(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
