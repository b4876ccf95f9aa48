package client

import (
	"time"

	"github.com/easyshare/easyshare/internal/discovery"
	"github.com/easyshare/easyshare/internal/proto"
)

// Scan probes the local network and yields server descriptors as they
// arrive. The channel closes when the wait window elapses.
func Scan(discoverPort int, wait time.Duration) (<-chan proto.ServerDescriptor, error) {
	return discovery.NewScanner(discoverPort, wait).Scan()
}

// ScanFor probes the local network for a server with the given name,
// returning the first match or nil when the window closes without one.
func ScanFor(name string, discoverPort int, wait time.Duration) (*proto.ServerDescriptor, error) {
	results, err := Scan(discoverPort, wait)
	if err != nil {
		return nil, err
	}
	for desc := range results {
		if desc.Name == name {
			d := desc
			return &d, nil
		}
	}
	return nil, nil
}
