// Package discovery implements LAN server discovery: clients broadcast a
// small UDP probe and every listening server replies unicast with a JSON
// snapshot of its descriptor.
//
// Discovery is best-effort. Dropped datagrams mean a missing server in one
// scan, never a failure; malformed replies are silently discarded.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// DefaultPort is the server-side discovery port.
const DefaultPort = 12021

// TokenSize is the size of the scanner-chosen correlation payload.
const TokenSize = 4

// Snapshot produces a fresh server descriptor for one reply. It is invoked
// per datagram so replies always carry the current sharings list.
type Snapshot func() proto.ServerDescriptor

// Daemon answers discovery probes on a UDP port.
type Daemon struct {
	port     int
	snapshot Snapshot

	mu       sync.Mutex
	conn     *net.UDPConn
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDaemon creates a discovery daemon. It does not check the port; the
// server creates no daemon when the configured discover port is 0.
func NewDaemon(port int, snapshot Snapshot) *Daemon {
	return &Daemon{port: port, snapshot: snapshot, stop: make(chan struct{})}
}

// Serve binds the discovery port and answers probes until the context is
// cancelled or Stop is called.
func (d *Daemon) Serve(ctx context.Context) error {
	addr := &net.UDPAddr{Port: d.port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen UDP :%d: %w", d.port, err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	logger.Info("Discovery daemon started", "port", d.port)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
		case <-d.stop:
		}
		_ = conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Distinguish an ordered shutdown from a genuine read failure
			// before tearing the watcher down.
			requested := false
			select {
			case <-ctx.Done():
				requested = true
			case <-d.stop:
				requested = true
			default:
			}
			d.Stop()
			d.wg.Wait()
			if requested {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}
		if n < TokenSize {
			logger.Debug("Discovery probe too short, dropped", "peer", peer.String(), "bytes", n)
			continue
		}

		desc := d.snapshot()
		payload, err := json.Marshal(desc)
		if err != nil {
			logger.Warn("Discovery descriptor marshal failed", "error", err)
			continue
		}
		if _, err := conn.WriteToUDP(payload, peer); err != nil {
			logger.Debug("Discovery reply failed", "peer", peer.String(), "error", err)
			continue
		}
		logger.Debug("Discovery probe answered", "peer", peer.String())
	}
}

// Stop closes the discovery socket, unblocking Serve. Idempotent.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
