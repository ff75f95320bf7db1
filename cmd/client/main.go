package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/astromechza/sketchroom/pkg/auth"
	"github.com/astromechza/sketchroom/pkg/canvas"
	"github.com/astromechza/sketchroom/pkg/client"
	"github.com/astromechza/sketchroom/pkg/config"
	"github.com/astromechza/sketchroom/pkg/discovery"
	"github.com/astromechza/sketchroom/pkg/shape"
)

const canvasWidth, canvasHeight = 800, 600

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.ParseClient(os.Args[1:], os.Getenv)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	baseURL := cfg.ServerURL
	if cfg.Discover {
		entry, err := discovery.First(ctx, 3*time.Second)
		if err != nil {
			return fmt.Errorf("failed to discover server: %w", err)
		}
		slog.Info("discovered server", "instance", entry.Instance, "addr", entry.Addr)
		baseURL = entry.BaseURL()
	}

	token := cfg.Token
	if token == "" {
		user := cfg.UserID
		if user == "" {
			user = "bot-" + uuid.NewString()[:8]
		}
		if token, err = auth.NewIssuer(cfg.JWTSecret).Issue(user, 24*time.Hour); err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		slog.Info("minted token", "user", user)
	}

	session, err := client.Dial(ctx, client.Options{BaseURL: baseURL, Token: token, Room: cfg.Room})
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.WaitReady(ctx); err != nil {
		return fmt.Errorf("failed to join %s: %w", cfg.Room, err)
	}
	shapes, _ := session.Shapes()
	slog.Info("joined", "room", cfg.Room, "shapes", len(shapes))

	wg := new(sync.WaitGroup)
	wg.Add(2)
	go func() {
		defer wg.Done()
		logEvents(ctx, session)
	}()
	go func() {
		defer wg.Done()
		drawRandomlyContinuously(ctx, session, cfg.Interval)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	case <-session.Done():
		slog.Warn("connection lost")
	}
	cancel()
	wg.Wait()

	if cfg.Output != "" {
		if err := writePNG(session, cfg.Output); err != nil {
			return err
		}
		slog.Info("wrote canvas", "path", cfg.Output)
	}
	return nil
}

func logEvents(ctx context.Context, session *client.Session) {
	for {
		select {
		case ev := <-session.Events():
			slog.Info("event", "type", ev.Type, "room", ev.RoomID, "user", ev.UserID, "count", ev.UserCount, "message", ev.Message)
		case <-ctx.Done():
			return
		}
	}
}

func randomPoint() shape.Point {
	return shape.Point{X: rand.Float64() * canvasWidth, Y: rand.Float64() * canvasHeight}
}

// drawRandomlyContinuously performs one random gesture per interval, with jitter.
func drawRandomlyContinuously(ctx context.Context, session *client.Session, interval time.Duration) {
	for {
		t := time.NewTimer(interval/2 + time.Duration(rand.Int63n(int64(interval))))
		select {
		case <-t.C:
			gesture(session)
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled drawing")
			return
		}
	}
}

func gesture(session *client.Session) {
	start := randomPoint()
	switch rand.Intn(6) {
	case 0, 1:
		tool := []canvas.Tool{canvas.ToolRect, canvas.ToolCircle}[rand.Intn(2)]
		session.SetTool(tool)
		session.PointerDown(start)
		session.PointerUp(shape.Point{X: start.X + 10 + rand.Float64()*100, Y: start.Y + 10 + rand.Float64()*100})
	case 2:
		session.SetTool(canvas.ToolPencil)
		session.PointerDown(start)
		p := start
		for i := 0; i < 5+rand.Intn(10); i++ {
			p = shape.Point{X: p.X + rand.Float64()*20 - 10, Y: p.Y + rand.Float64()*20 - 10}
			session.PointerMove(p)
		}
		session.PointerUp(p)
	case 3:
		session.SetTool(canvas.ToolText)
		session.PointerDown(start)
		session.CommitText(fmt.Sprintf("note %d", rand.Intn(1000)))
	case 4:
		shapes, err := session.Shapes()
		if err != nil || len(shapes) == 0 {
			return
		}
		grab := grabPoint(shapes[rand.Intn(len(shapes))])
		session.SetTool(canvas.ToolSelect)
		session.PointerDown(grab)
		session.PointerMove(shape.Point{X: grab.X + 5, Y: grab.Y + 5})
		session.PointerUp(shape.Point{X: grab.X + rand.Float64()*40 - 20, Y: grab.Y + rand.Float64()*40 - 20})
	case 5:
		session.Chat(fmt.Sprintf("hello from %d", os.Getpid()))
	}
}

// grabPoint is a point that hits s.
func grabPoint(s shape.Shape) shape.Point {
	switch s.Kind {
	case shape.KindCircle:
		return shape.Point{X: s.CenterX, Y: s.CenterY}
	case shape.KindPencil:
		return s.Path[0]
	}
	b := shape.Bounds(s)
	return shape.Point{X: b.MinX, Y: b.MinY}
}

func writePNG(session *client.Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := session.WritePNG(f, canvasWidth, canvasHeight); err != nil {
		return fmt.Errorf("failed to render canvas: %w", err)
	}
	return f.Close()
}
