package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/astromechza/sketchroom/pkg/auth"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	secretVar := flag.String("jwt-secret", os.Getenv("SKETCHROOM_JWT_SECRET"), "HS256 secret shared with the server")
	ttlVar := flag.Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the user id")
	}
	if *secretVar == "" {
		return fmt.Errorf("jwt-secret is required")
	}
	token, err := auth.NewIssuer(*secretVar).Issue(flag.Arg(0), *ttlVar)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
