package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/sketchroom/pkg/auth"
	"github.com/astromechza/sketchroom/pkg/config"
	"github.com/astromechza/sketchroom/pkg/discovery"
	"github.com/astromechza/sketchroom/pkg/persist"
	"github.com/astromechza/sketchroom/pkg/registry"
	"github.com/astromechza/sketchroom/pkg/relay"
	"github.com/astromechza/sketchroom/pkg/server"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.ParseServer(os.Args[1:], os.Getenv)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store persist.Store
	var docs server.Documents
	if cfg.DBPath == ":memory:" {
		slog.Info("keeping rooms in memory only")
		store = persist.NewMemoryStore()
	} else {
		slog.Info("Opening database", "path", cfg.DBPath)
		s, err := persist.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store, docs = s, s
	}

	coordinator := persist.NewCoordinator(store,
		persist.WithWindow(cfg.SaveWindow),
		persist.WithHistoryLimit(cfg.HistoryLimit),
	)
	reg := registry.New()
	verifier := auth.NewVerifier(cfg.JWTSecret)
	relayCfg := relay.DefaultConfig()
	relayCfg.SendBuffer = cfg.SendBuffer
	relayCfg.PingInterval = cfg.PingInterval
	relayCfg.PongWait = 2 * cfg.PingInterval
	rl := relay.New(relayCfg, verifier, reg, coordinator)

	handler := server.New(server.Options{
		Relay:     rl,
		Rooms:     coordinator,
		Verifier:  verifier,
		Registry:  reg,
		Documents: docs,
	})
	httpServer := &http.Server{Addr: cfg.Addr, Handler: handler}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	if cfg.Advertise {
		port, err := discovery.PortOf(cfg.Addr)
		if err != nil {
			return err
		}
		adv, err := discovery.Advertise(cfg.Instance, port)
		if err != nil {
			slog.Error("failed to advertise", "err", err)
		} else {
			defer func() {
				if err := adv.Shutdown(); err != nil {
					slog.Error("failed to stop advertising", "err", err)
				}
			}()
		}
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down http server", "err", err)
	}
	rl.Close()
	wg.Wait()

	if err := coordinator.Close(shutdownCtx); err != nil {
		return fmt.Errorf("failed to flush rooms: %w", err)
	}
	slog.Info("flushed rooms")
	return nil
}
