// Package server wires the relay, the persistence coordinator and the snapshot renderings
// into one HTTP handler.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-graphviz"
	"github.com/gorilla/mux"

	"github.com/astromechza/sketchroom/pkg/auth"
	"github.com/astromechza/sketchroom/pkg/persist"
	"github.com/astromechza/sketchroom/pkg/protocol"
	"github.com/astromechza/sketchroom/pkg/registry"
	"github.com/astromechza/sketchroom/pkg/render"
	"github.com/astromechza/sketchroom/pkg/viz"
)

const (
	minCanvasWidth  = 800
	minCanvasHeight = 600
)

// RoomState is the read side of the persistence coordinator.
type RoomState interface {
	History(ctx context.Context, roomID string) ([]persist.Entry, error)
	Snapshot(ctx context.Context, roomID string) (*persist.Snapshot, error)
}

// Documents exposes stored room documents. Only the sqlite store provides it.
type Documents interface {
	Document(ctx context.Context, roomID string) (*automerge.Doc, error)
}

type Options struct {
	Relay     http.Handler
	Rooms     RoomState
	Verifier  *auth.Verifier
	Registry  *registry.Registry
	Documents Documents
}

type Server struct {
	opts   Options
	router *mux.Router
}

func New(opts Options) *Server {
	s := &Server{opts: opts, router: mux.NewRouter()}
	s.router.Use(logRequests)
	s.router.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health)
	s.router.Methods(http.MethodGet).Path("/ws").Handler(opts.Relay)

	rooms := s.router.PathPrefix("/rooms/{room}").Subrouter()
	rooms.Use(s.requireToken)
	rooms.Methods(http.MethodGet).Path("/history").HandlerFunc(s.history)
	rooms.Methods(http.MethodGet).Path("/snapshot.png").HandlerFunc(s.snapshotPNG)
	rooms.Methods(http.MethodGet).Path("/snapshot.pdf").HandlerFunc(s.snapshotPDF)
	rooms.Methods(http.MethodGet).Path("/revisions.svg").HandlerFunc(s.revisions)
	rooms.Methods(http.MethodGet).Path("/document").HandlerFunc(s.document)
	return s
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.router.ServeHTTP(writer, request)
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) requireToken(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if _, err := s.opts.Verifier.Verify(auth.TokenFromRequest(request)); err != nil {
			slog.Warn("rejected request", "url", request.URL.Path, "err", err)
			http.Error(writer, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(writer, request)
	})
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func (s *Server) health(writer http.ResponseWriter, request *http.Request) {
	body := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if s.opts.Registry != nil {
		body["connections"] = s.opts.Registry.Len()
	}
	writeJSON(writer, body)
}

type historyResponse struct {
	RoomID   string              `json:"roomId"`
	Messages []protocol.Envelope `json:"messages"`
}

func (s *Server) history(writer http.ResponseWriter, request *http.Request) {
	roomID := mux.Vars(request)["room"]
	entries, err := s.opts.Rooms.History(request.Context(), roomID)
	if err != nil {
		slog.Error("failed to load history", "room", roomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp := historyResponse{RoomID: roomID, Messages: make([]protocol.Envelope, 0, len(entries))}
	for _, e := range entries {
		env, err := protocol.EncodeOp(roomID, e.Op)
		if err != nil {
			slog.Warn("skipping unencodable history entry", "room", roomID, "kind", e.Op.Kind, "err", err)
			continue
		}
		env.Seq = e.Seq
		resp.Messages = append(resp.Messages, env)
	}
	writeJSON(writer, resp)
}

func (s *Server) snapshot(writer http.ResponseWriter, request *http.Request) (*persist.Snapshot, bool) {
	roomID := mux.Vars(request)["room"]
	snap, err := s.opts.Rooms.Snapshot(request.Context(), roomID)
	if err != nil {
		slog.Error("failed to load snapshot", "room", roomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	return snap, true
}

func (s *Server) snapshotPNG(writer http.ResponseWriter, request *http.Request) {
	snap, ok := s.snapshot(writer, request)
	if !ok {
		return
	}
	w, h := render.FitSize(snap.Shapes, minCanvasWidth, minCanvasHeight)
	var buff bytes.Buffer
	if err := render.PNG(&buff, render.Scene{Shapes: snap.Shapes}, w, h); err != nil {
		slog.Error("failed to render png", "room", snap.RoomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBody(writer, "image/png", buff.Bytes())
}

func (s *Server) snapshotPDF(writer http.ResponseWriter, request *http.Request) {
	snap, ok := s.snapshot(writer, request)
	if !ok {
		return
	}
	var buff bytes.Buffer
	if err := render.PDF(&buff, snap.Shapes, minCanvasWidth, minCanvasHeight); err != nil {
		slog.Error("failed to render pdf", "room", snap.RoomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBody(writer, "application/pdf", buff.Bytes())
}

// loadDocument answers the request itself when the document is unavailable.
func (s *Server) loadDocument(writer http.ResponseWriter, request *http.Request) (*automerge.Doc, bool) {
	roomID := mux.Vars(request)["room"]
	if s.opts.Documents == nil {
		http.Error(writer, "documents are only kept by the sqlite store", http.StatusNotFound)
		return nil, false
	}
	doc, err := s.opts.Documents.Document(request.Context(), roomID)
	if errors.Is(err, persist.ErrNotFound) {
		writer.WriteHeader(http.StatusNotFound)
		return nil, false
	} else if err != nil {
		slog.Error("failed to load document", "room", roomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	return doc, true
}

// document serves the saved automerge document of the room.
func (s *Server) document(writer http.ResponseWriter, request *http.Request) {
	doc, ok := s.loadDocument(writer, request)
	if !ok {
		return
	}
	writeBody(writer, "application/octet-stream", doc.Save())
}

func (s *Server) revisions(writer http.ResponseWriter, request *http.Request) {
	roomID := mux.Vars(request)["room"]
	doc, ok := s.loadDocument(writer, request)
	if !ok {
		return
	}
	var buff bytes.Buffer
	if err := viz.Render(doc, graphviz.SVG, persist.RevisionLabel, &buff); err != nil {
		slog.Error("failed to render revisions", "room", roomID, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBody(writer, "image/svg+xml", buff.Bytes())
}

func writeBody(writer http.ResponseWriter, contentType string, body []byte) {
	writer.Header().Set("Content-Type", contentType)
	if _, err := writer.Write(body); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
