// Package transport defines the narrow boundary between the routing core
// and the external transport drivers (spec.md §6 "Transport adapter
// contract"). The core never dials or frames bytes itself; it calls Send
// on whatever Sender the embedder wires in, and receives inbound messages
// through a Handler callback it registers once at startup.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
)

// ErrNoSession is returned by a Sender when it has no live connection to the
// destination and the send is dropped rather than queued (spec.md §6:
// "best-effort; may drop if no session").
var ErrNoSession = errors.New("transport: no session to peer")

// Sender is what the core consumes from an external transport driver.
type Sender interface {
	// Send is best-effort: it may return ErrNoSession rather than block or
	// queue, but must not reorder messages already accepted for the same
	// peer (spec.md §6).
	Send(ctx context.Context, to identity.IdentHash, msg *i2np.Message) error
}

// Handler is invoked by a transport driver for every inbound message, with
// the producing peer's IdentHash already attached (the transport handshake
// has authenticated it via the peer's RouterIdentity).
type Handler func(from identity.IdentHash, msg *i2np.Message)

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, to identity.IdentHash, msg *i2np.Message) error

func (f SenderFunc) Send(ctx context.Context, to identity.IdentHash, msg *i2np.Message) error {
	return f(ctx, to, msg)
}

// Registry is the process-wide transport hook, mirroring the teacher's
// package-level SetBroadcaster/Broadcast pair: exactly one Sender and one
// Handler are wired in at startup, and every other component reaches the
// transport only through the Registry's Send/Dispatch methods below.
type Registry struct {
	mu      sync.RWMutex
	sender  Sender
	handler Handler
}

// NewRegistry returns an empty registry; callers must set a Sender before
// Send is usable, and a Handler before Dispatch delivers anywhere.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetSender wires the active transport driver's send path.
func (r *Registry) SetSender(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = s
}

// SetHandler wires the core's inbound dispatch callback.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Send forwards to the registered Sender, or returns ErrNoSession if none is
// wired yet (mirrors the teacher's Broadcast: "no hook registered" is a
// no-op failure, not a panic).
func (r *Registry) Send(ctx context.Context, to identity.IdentHash, msg *i2np.Message) error {
	r.mu.RLock()
	s := r.sender
	r.mu.RUnlock()
	if s == nil {
		return ErrNoSession
	}
	return s.Send(ctx, to, msg)
}

// Dispatch is called by the transport driver for each inbound message. It
// is a no-op if no Handler has been wired.
func (r *Registry) Dispatch(from identity.IdentHash, msg *i2np.Message) {
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		return
	}
	h(from, msg)
}
