// Package mdns advertises the relay on the local network so controller apps
// can find the WebSocket endpoint without typing the host address.
package mdns

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/go-hclog"
)

const (
	// Service is the DNS-SD service type advertised for the relay.
	Service = "_dglab-relay._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
)

// Advert describes one relay advertisement.
type Advert struct {
	Instance string
	Port     int
	Path     string // WebSocket path, e.g. "/ws"
	Version  string
}

// TXT returns the TXT records for a.
func (a Advert) TXT() []string {
	txt := []string{"path=" + a.Path}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	return txt
}

func (a Advert) validate() error {
	if a.Instance == "" {
		return fmt.Errorf("mdns: instance name is required")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("mdns: invalid port %d", a.Port)
	}
	return nil
}

// Server is a running advertisement.
type Server struct {
	zc     *zeroconf.Server
	logger hclog.Logger
}

// Register starts advertising a on all interfaces.
func Register(a Advert, logger hclog.Logger) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	zc, err := zeroconf.Register(a.Instance, Service, Domain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	logger.Info("advertised", "instance", a.Instance, "service", Service, "port", a.Port)
	return &Server{zc: zc, logger: logger}, nil
}

// Close withdraws the advertisement.
func (s *Server) Close() {
	s.zc.Shutdown()
	s.logger.Info("advertisement withdrawn")
}
