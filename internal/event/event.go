// Package event carries the three typed session signals: persist, expired
// and dispatch. Each session owns one Hub; external collaborators subscribe
// before the session imports a credential.
package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"coursewatch/internal/domain"
)

// Dispatch is the payload of an alert delivery signal.
type Dispatch struct {
	ID        string
	GuildID   string
	ChannelID string
	Text      string
	Summary   domain.Summary
}

// Hub fans session signals out to subscribed listeners. Listener panics are
// isolated so a failing persistence layer cannot take down a request path.
type Hub struct {
	mu       sync.Mutex
	logger   *slog.Logger
	persist  []func(domain.Snapshot)
	expired  []func()
	dispatch []func(Dispatch)
}

// NewHub builds an empty hub. A nil logger silences listener failures.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

// OnPersist subscribes to snapshot persistence signals.
func (h *Hub) OnPersist(fn func(domain.Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.persist = append(h.persist, fn)
}

// OnExpired subscribes to session expiry signals.
func (h *Hub) OnExpired(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = append(h.expired, fn)
}

// OnDispatch subscribes to alert delivery signals.
func (h *Hub) OnDispatch(fn func(Dispatch)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatch = append(h.dispatch, fn)
}

// Persist emits a snapshot to every persistence listener.
func (h *Hub) Persist(snap domain.Snapshot) {
	for _, fn := range h.persistListeners() {
		h.invoke("persist", func() { fn(snap) })
	}
}

// Expired notifies every expiry listener.
func (h *Hub) Expired() {
	h.mu.Lock()
	listeners := append([]func(){}, h.expired...)
	h.mu.Unlock()
	for _, fn := range listeners {
		h.invoke("expired", fn)
	}
}

// Emit delivers an alert payload, stamping a fresh id when absent.
func (h *Hub) Emit(d Dispatch) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	h.mu.Lock()
	listeners := append([]func(Dispatch){}, h.dispatch...)
	h.mu.Unlock()
	for _, fn := range listeners {
		h.invoke("dispatch", func() { fn(d) })
	}
}

func (h *Hub) persistListeners() []func(domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]func(domain.Snapshot){}, h.persist...)
}

func (h *Hub) invoke(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil && h.logger != nil {
			h.logger.Error("signal listener panicked", "signal", signal, "panic", r)
		}
	}()
	fn()
}
