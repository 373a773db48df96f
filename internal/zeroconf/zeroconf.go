// Package zeroconf registers the radio's HTTP API as an mDNS/DNS-SD service
// so panels and phones on the LAN can find it.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type the API is advertised under.
const ServiceType = "_kitchenradio._tcp"

// Service manages mDNS service registration.
type Service struct {
	instance string
	port     int
	txt      []string
}

// New creates a Service advertising instance on port with the given TXT records.
func New(instance string, port int, txt []string) *Service {
	return &Service{instance: instance, port: port, txt: txt}
}

// Start registers the service and blocks until ctx is cancelled, then
// unregisters it.
func (s *Service) Start(ctx context.Context) error {
	if s.port <= 0 {
		return fmt.Errorf("zeroconf: invalid port %d", s.port)
	}
	server, err := zeroconf.Register(s.instance, ServiceType, "local.", s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.instance, "type", ServiceType, "port", s.port)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Browse lists radios advertised on the LAN until ctx is done. The display
// client uses it when no daemon URL is configured.
func Browse(ctx context.Context) ([]*zeroconf.ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("zeroconf browse: %w", err)
	}
	var found []*zeroconf.ServiceEntry
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return found, nil
			}
			found = append(found, e)
		case <-ctx.Done():
			return found, nil
		}
	}
}
