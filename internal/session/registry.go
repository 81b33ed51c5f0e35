package session

import (
	"io"
	"log/slog"
	"sync"

	"coursewatch/internal/event"
	"coursewatch/internal/ports"
)

// Registry maps external caller identities (guild:user) to their session
// clients. The identity key is always supplied by the caller, never derived
// here.
type Registry struct {
	gw     ports.Gateway
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	onCreate func(*Client)
	clients  map[string]*Client
}

// NewRegistry builds an empty registry sharing one gateway and one option
// set across all sessions.
func NewRegistry(gw ports.Gateway, logger *slog.Logger, opts Options) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		gw:      gw,
		logger:  logger,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// OnCreate registers a hook invoked for every newly created client, before
// it is returned to any caller. The application uses it to attach signal
// listeners ahead of the first Import.
func (r *Registry) OnCreate(fn func(*Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

// Resolve returns the session for the key, creating one when absent.
func (r *Registry) Resolve(key string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[key]; ok {
		return client
	}

	client := NewClient(key, r.gw, event.NewHub(r.logger), r.logger, r.opts)
	if r.onCreate != nil {
		r.onCreate(client)
	}
	r.clients[key] = client
	return client
}

// Lookup returns the session for the key without creating one.
func (r *Registry) Lookup(key string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[key]
	return client, ok
}

// Remove closes and forgets the session for the key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	client, ok := r.clients[key]
	delete(r.clients, key)
	r.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Shutdown closes every session, cancelling keep-alive loops and alert jobs.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
