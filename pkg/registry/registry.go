// Package registry holds the server's sharings: named, root-anchored views
// of the filesystem registered at startup.
//
// The registry is populated while the server boots and frozen before the
// first connection is accepted. After Freeze it is immutable, so concurrent
// readers need no synchronisation.
package registry

import (
	"sort"
	"sync"

	"github.com/easyshare/easyshare/internal/proto"
)

// Registry maps sharing names to sharings.
type Registry struct {
	mu       sync.Mutex
	sharings map[string]*Sharing
	order    []string
	frozen   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sharings: make(map[string]*Sharing),
	}
}

// Add registers a sharing. It fails on duplicate names and after Freeze.
func (r *Registry) Add(s *Sharing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return proto.NewError(proto.ErrInvalidArgument, "registry is frozen")
	}
	if _, ok := r.sharings[s.Name]; ok {
		return proto.Errorf(proto.ErrInvalidArgument, "duplicate sharing name %q", s.Name)
	}
	r.sharings[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Freeze seals the registry. Config reloads are not supported in-process.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get looks a sharing up by name.
func (r *Registry) Get(name string) (*Sharing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sharings[name]
	if !ok {
		return nil, proto.Errorf(proto.ErrNoSuchSharing, "no sharing named %q", name)
	}
	return s, nil
}

// List returns all sharings in registration order.
func (r *Registry) List() []*Sharing {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Sharing, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sharings[name])
	}
	return out
}

// Len returns the number of registered sharings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sharings)
}

// Descriptors returns the public view of every sharing, sorted by name for
// stable descriptor snapshots.
func (r *Registry) Descriptors() []proto.SharingDescriptor {
	sharings := r.List()
	out := make([]proto.SharingDescriptor, 0, len(sharings))
	for _, s := range sharings {
		out = append(out, s.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
