// Package zeroconf advertises the device API over mDNS/DNS-SD so bench tools
// can find the daemon on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/grandcat/zeroconf"

	"github.com/micro-nova/tscadc-go/internal/events"
)

const (
	// ServiceType is the DNS-SD service type of the device API.
	ServiceType = "_tscadc._tcp"

	domain = "local."
)

// Records builds the TXT records announced with the service.
func Records(version string, devices, bound int) []string {
	return []string{
		"version=" + version,
		"path=/api/devices",
		"devices=" + strconv.Itoa(devices),
		"bound=" + strconv.Itoa(bound),
	}
}

// Service manages mDNS service registration.
type Service struct {
	name    string // instance name, usually the hostname
	port    int
	txt     func() []string
	updates <-chan events.Event
}

// New creates a Service advertising port. txt builds the TXT records; it may
// be nil.
func New(name string, port int, txt func() []string) *Service {
	return &Service{name: name, port: port, txt: txt}
}

// RefreshOn makes a running Service rebuild its TXT records whenever an
// event arrives on ch. Call it before Start.
func (s *Service) RefreshOn(ch <-chan events.Event) {
	s.updates = ch
}

// textSetter is the part of *zeroconf.Server the refresh loop needs.
type textSetter interface {
	SetText(text []string)
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	if s.port <= 0 || s.port > 65535 {
		return fmt.Errorf("zeroconf: invalid port %d", s.port)
	}
	txt := s.records()

	server, err := zeroconf.Register(s.name, ServiceType, domain, s.port, txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
		"txt", txt,
	)

	s.serve(ctx, server)

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// serve pushes fresh TXT records to server on every update until ctx is done
// or the update channel closes.
func (s *Service) serve(ctx context.Context, server textSetter) {
	updates := s.updates
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			txt := s.records()
			server.SetText(txt)
			slog.Debug("zeroconf: TXT records updated", "txt", txt)
		}
	}
}

func (s *Service) records() []string {
	if s.txt == nil {
		return nil
	}
	return s.txt()
}
