package persist

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/sketchroom/pkg/shape"
)

const (
	keyShapes   = "shapes"
	keyHistory  = "history"
	keyRevision = "revision"
)

// SQLiteStore keeps one row per room. Each row holds a saved automerge document whose root
// map carries the latest shapes and history, so every save is also a change in the row's
// own revision graph.
type SQLiteStore struct {
	database *sql.DB

	mu      sync.Mutex
	docs    map[string]*automerge.Doc
	updated map[string]time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer and every :memory: connection is its own database
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{database: db, docs: make(map[string]*automerge.Doc), updated: make(map[string]time.Time)}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text not null,
		updated_at integer not null
		)`,
	); err != nil {
		return nil, fmt.Errorf("failed to create rooms table: %w", err)
	}
	slog.Debug("ensured rooms table exists")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.database.Close()
}

// doc returns the cached document for the room, reading it from its row on first use. The
// caller holds s.mu.
func (s *SQLiteStore) doc(ctx context.Context, roomID string) (*automerge.Doc, error) {
	if d, ok := s.docs[roomID]; ok {
		return d, nil
	}
	var raw string
	var updatedMillis int64
	err := s.database.QueryRowContext(ctx, `SELECT content, updated_at FROM rooms WHERE id = ?`, roomID).Scan(&raw, &updatedMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode room content: %w", err)
	}
	d, err := automerge.Load(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	s.docs[roomID] = d
	s.updated[roomID] = time.UnixMilli(updatedMillis)
	return d, nil
}

func (s *SQLiteStore) Load(ctx context.Context, roomID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.doc(ctx, roomID)
	if err != nil {
		return nil, err
	}
	snap, err := SnapshotFromDoc(roomID, d)
	if err != nil {
		return nil, err
	}
	snap.UpdatedAt = s.updated[roomID]
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot *Snapshot) error {
	shapesRaw, err := json.Marshal(snapshot.Shapes)
	if err != nil {
		return fmt.Errorf("failed to encode shapes: %w", err)
	}
	historyRaw, err := encodeHistory(snapshot.RoomID, snapshot.History)
	if err != nil {
		return err
	}
	updated := snapshot.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.doc(ctx, snapshot.RoomID)
	if errors.Is(err, ErrNotFound) {
		d = automerge.New()
		s.docs[snapshot.RoomID] = d
	} else if err != nil {
		return err
	}

	if err := d.Path(keyShapes).Set(string(shapesRaw)); err != nil {
		return fmt.Errorf("failed to set shapes: %w", err)
	}
	if err := d.Path(keyHistory).Set(string(historyRaw)); err != nil {
		return fmt.Errorf("failed to set history: %w", err)
	}
	if err := d.Path(keyRevision).Counter().Inc(1); err != nil {
		return fmt.Errorf("failed to increment revision: %w", err)
	}
	if _, err := d.Commit("snapshot", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	content := base64.StdEncoding.EncodeToString(d.Save())
	if _, err := s.database.ExecContext(ctx,
		`INSERT INTO rooms (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		snapshot.RoomID, content, updated.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to write room: %w", err)
	}
	s.updated[snapshot.RoomID] = time.UnixMilli(updated.UnixMilli())
	slog.Debug("saved snapshot", "room", snapshot.RoomID, "heads", d.Heads())
	return nil
}

// Document returns a fork of the room's document for inspection.
func (s *SQLiteStore) Document(ctx context.Context, roomID string) (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.doc(ctx, roomID)
	if err != nil {
		return nil, err
	}
	fork, err := d.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork doc: %w", err)
	}
	return fork, nil
}

// Rooms lists every stored room id.
func (s *SQLiteStore) Rooms(ctx context.Context) ([]string, error) {
	res, err := s.database.QueryContext(ctx, `SELECT id FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)
	var out []string
	for res.Next() {
		var id string
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, id)
	}
	return out, res.Err()
}

// SnapshotFromDoc reads the shapes, history and revision keys of a room document as
// written by SQLiteStore.
func SnapshotFromDoc(roomID string, d *automerge.Doc) (*Snapshot, error) {
	snap := &Snapshot{RoomID: roomID}
	if raw := docString(d, keyShapes); raw != "" {
		if err := json.Unmarshal([]byte(raw), &snap.Shapes); err != nil {
			return nil, fmt.Errorf("failed to decode shapes: %w", err)
		}
	}
	history, err := decodeHistory([]byte(docString(d, keyHistory)))
	if err != nil {
		return nil, err
	}
	snap.History = history
	snap.Revision, _ = d.Path(keyRevision).Counter().Get()
	return snap, nil
}

func docString(d *automerge.Doc, key string) string {
	v, err := d.Path(key).Get()
	if err != nil {
		return ""
	}
	str, _ := v.Interface().(string)
	return str
}

// ShapeCount is a cheap summary used when labelling revisions.
func ShapeCount(d *automerge.Doc) int {
	var shapes []shape.Shape
	if err := json.Unmarshal([]byte(docString(d, keyShapes)), &shapes); err != nil {
		return 0
	}
	return len(shapes)
}

// RevisionLabel describes a room document at one change, for revision graphs.
func RevisionLabel(d *automerge.Doc) string {
	revision, _ := d.Path(keyRevision).Counter().Get()
	return fmt.Sprintf("rev %d, %d shapes", revision, ShapeCount(d))
}
