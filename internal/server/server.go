// Package server implements the easyshare server daemon: the control
// channel listener, per-connection sessions, RPC dispatch and the wiring of
// discovery, transfers and rexec.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/easyshare/easyshare/internal/api"
	"github.com/easyshare/easyshare/internal/discovery"
	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/config"
	"github.com/easyshare/easyshare/pkg/identity"
	"github.com/easyshare/easyshare/pkg/metrics"
	"github.com/easyshare/easyshare/pkg/registry"
)

// Server is the easyshare daemon.
type Server struct {
	cfg      *config.ServerConfig
	registry *registry.Registry
	cred     *identity.Credential
	version  string

	tlsConf         *tls.Config
	certFingerprint string

	listener  net.Listener
	discovery *discovery.Daemon
	obsServer *api.Server

	mu       sync.Mutex
	sessions map[string]*Session
	stopping bool
	stopCh   chan struct{}

	wg sync.WaitGroup
}

// New builds a server from configuration. Sharings must already be
// registered; the registry is frozen here.
func New(cfg *config.ServerConfig, reg *registry.Registry, version string) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		cred:     identity.NewCredential(cfg.Password),
		version:  version,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}

	if cfg.SSL {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLPrivkey)
		if err != nil {
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		s.tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
		sum := sha256.Sum256(cert.Certificate[0])
		s.certFingerprint = hex.EncodeToString(sum[:])
	}

	reg.Freeze()
	return s, nil
}

// Descriptor builds a fresh public snapshot of the server. Called per
// discovery probe and per info RPC so the sharings list is always current.
func (s *Server) Descriptor() proto.ServerDescriptor {
	return proto.ServerDescriptor{
		Name:            s.cfg.Name,
		Address:         s.cfg.Address,
		Port:            s.Port(),
		DiscoverPort:    s.cfg.DiscoverPort,
		SSL:             s.cfg.SSL,
		Auth:            !s.cred.Empty(),
		Rexec:           s.cfg.Rexec,
		Version:         s.version,
		CertFingerprint: s.certFingerprint,
		Sharings:        s.registry.Descriptors(),
	}
}

// Port returns the bound control port (useful when configured as 0).
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.cfg.Port
}

// Serve binds the control port and accepts connections until the context is
// cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen TCP %s: %w", addr, err)
	}
	s.listener = tcpListener

	logger.Info("Server started",
		"name", s.cfg.Name,
		"address", addr,
		"port", s.Port(),
		"ssl", s.cfg.SSL,
		"auth", !s.cred.Empty(),
		"rexec", s.cfg.Rexec,
		"sharings", s.registry.Len())

	if s.cfg.DiscoverPort > 0 {
		s.discovery = discovery.NewDaemon(s.cfg.DiscoverPort, s.Descriptor)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.discovery.Serve(ctx); err != nil {
				logger.Error("Discovery daemon failed", "error", err)
			}
		}()
	}

	if s.cfg.MetricsPort > 0 {
		metrics.Init()
		s.obsServer = api.NewServer(s.cfg.MetricsPort, s.version)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.obsServer.Start(); err != nil {
				logger.Error("Observability server failed", "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()

	for {
		conn, err := tcpListener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener and tears down every session. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.discovery != nil {
		s.discovery.Stop()
	}
	if s.obsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.obsServer.Stop(ctx)
		cancel()
	}
	for _, sess := range sessions {
		sess.close()
	}
}

// handleConn wraps an accepted connection in TLS if configured and runs its
// session.
func (s *Server) handleConn(conn net.Conn) {
	if s.tlsConf != nil {
		conn = tls.Server(conn, s.tlsConf)
	}

	sess := newSession(s, conn)
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.SessionOpened()

	logger.Info("Session opened", "session_id", sess.id, "peer", sess.remoteHost)
	sess.serve()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	metrics.SessionClosed()
	logger.Info("Session closed", "session_id", sess.id, "peer", sess.remoteHost)
}

// idleTimeout returns the configured session idle timeout.
func (s *Server) idleTimeout() time.Duration {
	if s.cfg.IdleTimeout <= 0 {
		return 0
	}
	return time.Duration(s.cfg.IdleTimeout) * time.Second
}

// peerHost extracts the host part of a remote address.
func peerHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return strings.TrimSpace(addr.String())
	}
	return host
}
