package network

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Registry maps each network to the client that carries its traffic.
type Registry struct {
	mu      sync.RWMutex
	clients map[Kind]*http.Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[Kind]*http.Client)}
}

// Register sets the client for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, client *http.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[kind] = client
}

// ClientFor returns the client for the network rawURL classifies to.
func (r *Registry) ClientFor(rawURL string) (*http.Client, Kind, error) {
	kind := Classify(rawURL)

	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[kind]
	if !ok {
		return nil, kind, fmt.Errorf("%w: %s", ErrNoNetwork, kind)
	}
	return client, kind, nil
}

// Kinds returns the registered networks, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.clients))
	for k := range r.clients {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
