// Package discovery advertises a sketchroom server on the local network over mDNS and
// finds advertised servers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_sketchroom._tcp"

var ErrNoServer = errors.New("no sketchroom server found")

// Advertise announces the server listening on port until the returned server is shut down.
func Advertise(instance string, port int, info ...string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, append([]string{"path=/ws"}, info...))
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	slog.Info("advertising", "instance", instance, "service", ServiceType, "port", port)
	return server, nil
}

type Entry struct {
	Instance string
	Addr     string
	Info     []string
}

// BaseURL is the http url of the advertised server.
func (e Entry) BaseURL() string {
	return "http://" + e.Addr
}

func entryFrom(e *mdns.ServiceEntry) (Entry, bool) {
	if e == nil || e.Port == 0 {
		return Entry{}, false
	}
	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return Entry{}, false
	}
	instance := strings.TrimSuffix(e.Name, "."+ServiceType+".local.")
	return Entry{
		Instance: instance,
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
		Info:     e.InfoFields,
	}, true
}

// Browse collects advertised servers for up to timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	var found []Entry
	seen := make(map[string]bool)
	go func() {
		defer close(done)
		for e := range entries {
			if entry, ok := entryFrom(e); ok && !seen[entry.Addr] {
				seen[entry.Addr] = true
				found = append(found, entry)
			}
		}
	}()
	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("failed to query mDNS: %w", err)
	}
	return found, nil
}

// First returns the first server found within timeout.
func First(ctx context.Context, timeout time.Duration) (Entry, error) {
	found, err := Browse(ctx, timeout)
	if err != nil {
		return Entry{}, err
	}
	if len(found) == 0 {
		return Entry{}, ErrNoServer
	}
	return found[0], nil
}

// PortOf extracts the port from a listen address such as "localhost:8080" or ":8080".
func PortOf(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port in %q", addr)
	}
	return p, nil
}
