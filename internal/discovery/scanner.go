package discovery

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/easyshare/easyshare/internal/logger"
	"github.com/easyshare/easyshare/internal/proto"
)

// DefaultWait is how long a scan collects replies.
const DefaultWait = 2 * time.Second

// Scanner probes the local network for servers.
type Scanner struct {
	// Port is the discovery port servers listen on.
	Port int

	// Wait is the reply collection window.
	Wait time.Duration

	// Targets overrides the probe destinations. When empty the scanner
	// broadcasts to 255.255.255.255 and to every broadcast-capable
	// interface address.
	Targets []*net.UDPAddr
}

// NewScanner creates a scanner with defaults applied.
func NewScanner(port int, wait time.Duration) *Scanner {
	if port == 0 {
		port = DefaultPort
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Scanner{Port: port, Wait: wait}
}

// Scan broadcasts one probe and yields each distinct server descriptor as
// it arrives. The returned channel is closed when the wait window elapses.
// Descriptors are deduplicated by (address, control port); the address field
// is overwritten with the reply's source address, which is authoritative.
func (s *Scanner) Scan() (<-chan proto.ServerDescriptor, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind scan socket: %w", err)
	}

	token := make([]byte, TokenSize)
	if _, err := rand.Read(token); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("generate scan token: %w", err)
	}

	targets := s.Targets
	if len(targets) == 0 {
		targets = broadcastTargets(s.Port)
	}
	sent := 0
	for _, target := range targets {
		if _, err := conn.WriteToUDP(token, target); err != nil {
			logger.Debug("Scan probe send failed", "target", target.String(), "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("no scan probe could be sent")
	}

	out := make(chan proto.ServerDescriptor)
	go s.collect(conn, out)
	return out, nil
}

// collect reads replies until the deadline, deduplicates them and closes
// the channel.
func (s *Scanner) collect(conn *net.UDPConn, out chan<- proto.ServerDescriptor) {
	defer close(out)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.Wait))

	seen := make(map[string]bool)
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // deadline or closed socket ends the scan
		}

		var desc proto.ServerDescriptor
		if err := json.Unmarshal(buf[:n], &desc); err != nil {
			logger.Debug("Malformed discovery reply dropped", "peer", peer.String())
			continue
		}
		desc.Address = peer.IP.String()

		key := fmt.Sprintf("%s:%d", desc.Address, desc.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		out <- desc
	}
}

// broadcastTargets returns the limited broadcast address plus the directed
// broadcast address of every up, broadcast-capable interface.
func broadcastTargets(port int) []*net.UDPAddr {
	targets := []*net.UDPAddr{{IP: net.IPv4bcast, Port: port}}

	ifaces, err := net.Interfaces()
	if err != nil {
		return targets
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, 4)
			for i := range bcast {
				bcast[i] = ip4[i] | ^ipnet.Mask[i]
			}
			targets = append(targets, &net.UDPAddr{IP: bcast, Port: port})
		}
	}
	return targets
}
