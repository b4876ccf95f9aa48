package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyshare/easyshare/internal/proto"
)

// startDaemon runs a discovery daemon on an OS-assigned loopback port and
// returns the port it bound.
func startDaemon(t *testing.T, snapshot Snapshot) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()

	d := NewDaemon(port, snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		d.Stop()
		<-done
	})

	// Give the daemon a moment to bind. The bind races the first probe
	// otherwise.
	time.Sleep(50 * time.Millisecond)
	return port
}

func testSnapshot(name string, port int) Snapshot {
	return func() proto.ServerDescriptor {
		return proto.ServerDescriptor{
			Name:    name,
			Port:    port,
			Version: "test",
			Sharings: []proto.SharingDescriptor{
				{Name: "s1", Kind: proto.KindDirectory},
			},
		}
	}
}

func TestScanFindsDaemon(t *testing.T) {
	port := startDaemon(t, testSnapshot("srv1", 12020))

	s := NewScanner(port, 500*time.Millisecond)
	s.Targets = []*net.UDPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: port}}

	results, err := s.Scan()
	require.NoError(t, err)

	var found []proto.ServerDescriptor
	for desc := range results {
		found = append(found, desc)
	}
	require.Len(t, found, 1)
	assert.Equal(t, "srv1", found[0].Name)
	assert.Equal(t, "127.0.0.1", found[0].Address)
	assert.Equal(t, 12020, found[0].Port)
	require.Len(t, found[0].Sharings, 1)
	assert.Equal(t, "s1", found[0].Sharings[0].Name)
}

func TestScanDeduplicatesReplies(t *testing.T) {
	port := startDaemon(t, testSnapshot("srv1", 12020))

	s := NewScanner(port, 500*time.Millisecond)
	// Two probes to the same daemon produce two replies with one identity.
	s.Targets = []*net.UDPAddr{
		{IP: net.IPv4(127, 0, 0, 1), Port: port},
		{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}

	results, err := s.Scan()
	require.NoError(t, err)

	count := 0
	for range results {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestScanIgnoresMalformedReply(t *testing.T) {
	// A bare UDP echo peer that answers with invalid JSON.
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer peer.Close()
	go func() {
		buf := make([]byte, 64)
		_, addr, err := peer.ReadFromUDP(buf)
		if err != nil {
			return
		}
		_, _ = peer.WriteToUDP([]byte("not json"), addr)
	}()

	port := peer.LocalAddr().(*net.UDPAddr).Port
	s := NewScanner(port, 300*time.Millisecond)
	s.Targets = []*net.UDPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: port}}

	results, err := s.Scan()
	require.NoError(t, err)

	count := 0
	for range results {
		count++
	}
	assert.Equal(t, 0, count)
}

func TestDaemonIgnoresShortProbe(t *testing.T) {
	port := startDaemon(t, testSnapshot("srv1", 12020))

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x01}) // below TokenSize
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 512)
	_, err = conn.Read(buf)
	assert.Error(t, err) // no reply expected
}
