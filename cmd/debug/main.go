package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/sketchroom/pkg/config"
	"github.com/astromechza/sketchroom/pkg/persist"
	"github.com/astromechza/sketchroom/pkg/render"
	"github.com/astromechza/sketchroom/pkg/shape"
	"github.com/astromechza/sketchroom/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mainInner inspects one room document, either a saved automerge file or a room row of a
// server database.
func mainInner() error {
	config.SetupLogging(slog.LevelInfo)

	dbVar := flag.String("db", "", "read the room from this sqlite database instead of a file")
	roomVar := flag.String("room", "", "room id to read with -db; lists rooms when empty")
	svgVar := flag.String("svg", "", "write the revision graph to this svg")
	pngVar := flag.String("png", "", "write the latest canvas to this png")
	flag.Parse()

	if *dbVar != "" && *roomVar == "" {
		return listRooms(*dbVar)
	}
	doc, err := loadDoc(*dbVar, *roomVar)
	if err != nil {
		return err
	}
	snap, err := persist.SnapshotFromDoc(*roomVar, doc)
	if err != nil {
		return fmt.Errorf("failed to decode room: %w", err)
	}
	slog.Info("loaded doc", "room", *roomVar, "revision", snap.Revision, "shapes", len(snap.Shapes), "history", len(snap.History))
	slog.Info("loaded heads", "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies(), "label", persist.RevisionLabel(docAt))
	}
	for i, s := range snap.Shapes {
		slog.Info("shape", "i", i, "id", s.ID, "type", s.Kind, "bounds", shape.Bounds(s))
	}

	if *svgVar != "" {
		if err := viz.WriteSVG(doc, persist.RevisionLabel, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	if *pngVar != "" {
		f, err := os.Create(*pngVar)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *pngVar, err)
		}
		defer f.Close()
		w, h := render.FitSize(snap.Shapes, 800, 600)
		if err := render.PNG(f, render.Scene{Shapes: snap.Shapes}, w, h); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*pngVar)
	}
	return nil
}

func listRooms(dbPath string) error {
	store, err := persist.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	rooms, err := store.Rooms(context.Background())
	if err != nil {
		return err
	}
	for _, room := range rooms {
		fmt.Println(room)
	}
	return nil
}

func loadDoc(dbPath, roomID string) (*automerge.Doc, error) {
	if dbPath != "" {
		store, err := persist.OpenSQLite(context.Background(), dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Document(context.Background(), roomID)
	}
	if flag.NArg() != 1 {
		return nil, fmt.Errorf("expected one position argument: the file to read")
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	buff, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := automerge.Load(buff)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return doc, nil
}
