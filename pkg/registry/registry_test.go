package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id, user string }

func (f fakeConn) ID() string     { return f.id }
func (f fakeConn) UserID() string { return f.user }

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestRegisterAndUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeConn{"c1", "u1"}))
	assert.ErrorIs(t, r.Register(fakeConn{"c1", "u1"}), ErrDuplicateConn)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.JoinRoom("c1", "r1"))
	assert.True(t, r.JoinRoom("c1", "r2"))
	assert.Equal(t, []string{"r1", "r2"}, r.Rooms("c1"))

	assert.Equal(t, []string{"r1", "r2"}, r.Unregister("c1"))
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Count("r1"))
	assert.Zero(t, r.Count("r2"))
	assert.Nil(t, r.Unregister("c1"), "second unregister is a no-op")
}

func TestJoinIsIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeConn{"c1", "u1"}))
	assert.True(t, r.JoinRoom("c1", "r1"))
	assert.False(t, r.JoinRoom("c1", "r1"))
	assert.Equal(t, 1, r.Count("r1"))
	assert.False(t, r.JoinRoom("ghost", "r1"), "unknown connections cannot join")
}

func TestLeaveRoom(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeConn{"c1", "u1"}))
	require.NoError(t, r.Register(fakeConn{"c2", "u2"}))
	r.JoinRoom("c1", "r1")
	r.JoinRoom("c2", "r1")

	assert.False(t, r.LeaveRoom("c1", "elsewhere"))
	assert.True(t, r.LeaveRoom("c1", "r1"))
	assert.False(t, r.LeaveRoom("c1", "r1"))
	assert.False(t, r.IsMember("c1", "r1"))
	assert.True(t, r.IsMember("c2", "r1"))
	assert.Equal(t, []string{"c2"}, ids(r.Members("r1")))
}

func TestDepartKeepsMembershipsUntilLeft(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeConn{"c1", "u1"}))
	r.JoinRoom("c1", "r1")
	r.JoinRoom("c1", "r2")

	assert.Equal(t, []string{"r1", "r2"}, r.Depart("c1"))
	assert.Nil(t, r.Depart("c1"), "second depart is a no-op")
	assert.True(t, r.IsMember("c1", "r1"))
	assert.False(t, r.JoinRoom("c1", "r3"), "departing connections cannot join")

	assert.True(t, r.LeaveRoom("c1", "r1"))
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.LeaveRoom("c1", "r2"))
	assert.Zero(t, r.Len(), "forgotten after the last membership")
	assert.Zero(t, r.Count("r2"))
}

func TestDepartWithoutRooms(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeConn{"c1", "u1"}))
	assert.Nil(t, r.Depart("c1"))
	assert.Zero(t, r.Len())
}

func TestMembersOrdered(t *testing.T) {
	r := New()
	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, r.Register(fakeConn{id, "u-" + id}))
		r.JoinRoom(id, "r1")
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(r.Members("r1")))
	c, ok := r.Get("c2")
	require.True(t, ok)
	assert.Equal(t, "u-c2", c.UserID())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_ = r.Register(fakeConn{id, id})
			r.JoinRoom(id, "shared")
			_ = r.Members("shared")
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.Count("shared"))
	assert.Equal(t, 25, r.Len())
}
