package server

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchroom/pkg/auth"
	"github.com/astromechza/sketchroom/pkg/op"
	"github.com/astromechza/sketchroom/pkg/persist"
	"github.com/astromechza/sketchroom/pkg/protocol"
	"github.com/astromechza/sketchroom/pkg/registry"
	"github.com/astromechza/sketchroom/pkg/relay"
	"github.com/astromechza/sketchroom/pkg/shape"
)

const secret = "server-test-secret"

type stack struct {
	server      *httptest.Server
	coordinator *persist.Coordinator
	token       string
}

func newStack(t *testing.T, store persist.Store, docs Documents) *stack {
	reg := registry.New()
	coordinator := persist.NewCoordinator(store, persist.WithWindow(time.Hour))
	verifier := auth.NewVerifier(secret)
	rl := relay.New(relay.DefaultConfig(), verifier, reg, coordinator)
	srv := httptest.NewServer(New(Options{
		Relay:     rl,
		Rooms:     coordinator,
		Verifier:  verifier,
		Registry:  reg,
		Documents: docs,
	}))
	t.Cleanup(func() {
		rl.Close()
		srv.Close()
	})
	token, err := auth.NewIssuer(secret).Issue("tester", time.Hour)
	require.NoError(t, err)
	return &stack{server: srv, coordinator: coordinator, token: token}
}

func (s *stack) get(t *testing.T, path string, authed bool) *http.Response {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)
	resp := s.get(t, "/health", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 0.0, body["connections"])
}

func TestRoomEndpointsNeedToken(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)
	for _, path := range []string{"/rooms/r1/history", "/rooms/r1/snapshot.png", "/rooms/r1/snapshot.pdf", "/rooms/r1/revisions.svg"} {
		assert.Equal(t, http.StatusUnauthorized, s.get(t, path, false).StatusCode, path)
	}
	assert.Equal(t, http.StatusOK, s.get(t, "/rooms/r1/history?token="+s.token, false).StatusCode)
}

func TestHistoryAfterRelayedOps(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + s.token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(protocol.JoinRoom("r1")))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	ack, err := protocol.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJoinedRoom, ack.Type)

	for _, o := range []op.Operation{
		op.Add(shape.Rect(10, 10, 40, 20).WithID("s1")),
		op.Move("s1", 5, 5),
	} {
		env, err := protocol.EncodeOp("r1", o)
		require.NoError(t, err)
		require.NoError(t, ws.WriteJSON(env))
	}

	var body historyResponse
	assert.Eventually(t, func() bool {
		resp := s.get(t, "/rooms/r1/history", true)
		body = historyResponse{}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && len(body.Messages) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "r1", body.RoomID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, protocol.TypeObjectAdded, body.Messages[0].Type)
	assert.Equal(t, []int64{1, 2}, []int64{body.Messages[0].Seq, body.Messages[1].Seq})
	last, err := protocol.DecodeOp(body.Messages[1])
	require.NoError(t, err)
	assert.Equal(t, op.Move("s1", 5, 5), last)
}

func TestUnknownRoomHistoryIsEmpty(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)
	resp := s.get(t, "/rooms/empty/history", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomId":"empty","messages":[]}`, string(raw))
}

func TestSnapshotRenderings(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)
	s.coordinator.Record("r1", op.Add(shape.Rect(10, 10, 900, 20).WithID("s1")))
	s.coordinator.Record("r1", op.Add(shape.Text(10, 100, "hello", 20).WithID("t1")))

	resp := s.get(t, "/rooms/r1/snapshot.png", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 930, img.Bounds().Dx(), "canvas grows to fit shapes")
	assert.Equal(t, 600, img.Bounds().Dy())

	resp = s.get(t, "/rooms/r1/snapshot.pdf", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "%PDF"))
}

func TestRevisionsNeedSQLite(t *testing.T) {
	s := newStack(t, persist.NewMemoryStore(), nil)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/rooms/r1/revisions.svg", true).StatusCode)
}

func TestRevisions(t *testing.T) {
	ctx := context.Background()
	store, err := persist.OpenSQLite(ctx, filepath.Join(t.TempDir(), "rooms.sqlite3"))
	require.NoError(t, err)
	defer store.Close()
	s := newStack(t, store, store)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/rooms/r1/revisions.svg", true).StatusCode)

	s.coordinator.Record("r1", op.Add(shape.Circle(50, 50, 10).WithID("c1")))
	require.NoError(t, s.coordinator.Flush(ctx))
	s.coordinator.Record("r1", op.Move("c1", 10, 0))
	require.NoError(t, s.coordinator.Flush(ctx))

	resp := s.get(t, "/rooms/r1/revisions.svg", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
	assert.Contains(t, string(raw), "rev 2, 1 shapes")

	resp = s.get(t, "/rooms/r1/document", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	doc, err := automerge.Load(raw)
	require.NoError(t, err)
	snap, err := persist.SnapshotFromDoc("r1", doc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Revision)
	assert.Equal(t, 60.0, snap.Shapes[0].CenterX)
}
