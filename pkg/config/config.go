// Package config parses command line flags for the sketchroom binaries. Every flag can
// also be set through the environment as SKETCHROOM_<FLAG>, with dashes as underscores;
// explicit flags win.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

const EnvPrefix = "SKETCHROOM_"

type Server struct {
	Addr         string
	DBPath       string
	JWTSecret    string
	SaveWindow   time.Duration
	HistoryLimit int
	SendBuffer   int
	PingInterval time.Duration
	Advertise    bool
	Instance     string
	LogLevel     slog.Level
}

type Client struct {
	ServerURL string
	Room      string
	Token     string
	JWTSecret string
	UserID    string
	Discover  bool
	Duration  time.Duration
	Interval  time.Duration
	Output    string
	LogLevel  slog.Level
}

func levelFlag(fs *flag.FlagSet, target *slog.Level) {
	*target = slog.LevelInfo
	fs.Func("log-level", "one of debug, info, warn, error", func(s string) error {
		return target.UnmarshalText([]byte(s))
	})
}

// parse applies environment fallbacks and then the arguments.
func parse(fs *flag.FlagSet, args []string, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		key := EnvPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v := getenv(key); v != "" {
			if err := fs.Set(f.Name, v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			}
		}
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return fs.Parse(args)
}

func ParseServer(args []string, getenv func(string) string) (Server, error) {
	var c Server
	fs := flag.NewFlagSet("sketchroom-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.Addr, "addr", "localhost:8080", "the address to listen on")
	fs.StringVar(&c.DBPath, "db", "sketchroom.sqlite3", "sqlite database path, or :memory: to keep nothing")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret used to verify tokens")
	fs.DurationVar(&c.SaveWindow, "save-window", 2*time.Second, "delay between the first unsaved change and its save")
	fs.IntVar(&c.HistoryLimit, "history-limit", 100, "operations kept for replay per room, 0 for unbounded")
	fs.IntVar(&c.SendBuffer, "send-buffer", 256, "outbound frames queued per connection before it is dropped")
	fs.DurationVar(&c.PingInterval, "ping-interval", 30*time.Second, "websocket keepalive interval")
	fs.BoolVar(&c.Advertise, "advertise", false, "advertise the server over mDNS")
	fs.StringVar(&c.Instance, "instance", "sketchroom", "mDNS instance name")
	levelFlag(fs, &c.LogLevel)
	if err := parse(fs, args, getenv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Server) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if c.SaveWindow <= 0 {
		errs = append(errs, errors.New("save-window must be positive"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history-limit must not be negative"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send-buffer must be positive"))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("ping-interval must be positive"))
	}
	return errors.Join(errs...)
}

func ParseClient(args []string, getenv func(string) string) (Client, error) {
	var c Client
	fs := flag.NewFlagSet("sketchroom-client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.ServerURL, "server", "http://localhost:8080", "base url of the server")
	fs.StringVar(&c.Room, "room", "default", "room to join")
	fs.StringVar(&c.Token, "token", "", "token to connect with")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "mint a token locally with this secret when -token is empty")
	fs.StringVar(&c.UserID, "user", "", "user id for minted tokens, random when empty")
	fs.BoolVar(&c.Discover, "discover", false, "find the server over mDNS instead of -server")
	fs.DurationVar(&c.Duration, "duration", 0, "stop after this long, 0 to run until interrupted")
	fs.DurationVar(&c.Interval, "interval", 2*time.Second, "mean delay between generated gestures")
	fs.StringVar(&c.Output, "output", "", "write the final canvas to this png")
	levelFlag(fs, &c.LogLevel)
	if err := parse(fs, args, getenv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Client) Validate() error {
	var errs []error
	if !c.Discover {
		if u, err := url.Parse(c.ServerURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid server url %q", c.ServerURL))
		}
	}
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if c.Token == "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("one of token or jwt-secret is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	return errors.Join(errs...)
}

// SetupLogging installs a text handler on stderr as the default logger.
func SetupLogging(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
