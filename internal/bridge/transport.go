package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRejected wraps the reason a receiver refused an event.
var ErrRejected = errors.New("event rejected")

// ErrUnknownPeer is returned when sending to an address nothing serves.
var ErrUnknownPeer = errors.New("unknown peer")

// Handler applies an incoming event. A non-nil error rejects it and the
// sender is told why.
type Handler func(ctx context.Context, ev Event) error

// Transport delivers events between engines. Send returns only after the
// receiver has accepted or rejected the event.
type Transport interface {
	Addr() string
	Serve(h Handler)
	Send(ctx context.Context, addr string, ev Event) error
	Close() error
}

// Hub connects Loopback transports inside one process.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*Loopback
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Loopback)}
}

// Join registers a transport under addr.
func (h *Hub) Join(addr string) *Loopback {
	l := &Loopback{hub: h, addr: addr}
	h.mu.Lock()
	h.nodes[addr] = l
	h.mu.Unlock()
	return l
}

func (h *Hub) lookup(addr string) (*Loopback, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.nodes[addr]
	return l, ok
}

// Loopback is an in-process Transport. Frames still pass through the wire
// codec.
type Loopback struct {
	hub  *Hub
	addr string

	mu      sync.RWMutex
	handler Handler
}

func (l *Loopback) Addr() string { return l.addr }

func (l *Loopback) Serve(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) Send(ctx context.Context, addr string, ev Event) error {
	peer, ok := l.hub.lookup(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	peer.mu.RLock()
	h := peer.handler
	peer.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w: %s is not serving", ErrUnknownPeer, addr)
	}
	reply := handleFrame(ctx, h, ev.Marshal())
	return readAck(reply)
}

func (l *Loopback) Close() error {
	l.hub.mu.Lock()
	delete(l.hub.nodes, l.addr)
	l.hub.mu.Unlock()
	return nil
}

// handleFrame decodes a frame, applies it and encodes the ack.
func handleFrame(ctx context.Context, h Handler, frame []byte) []byte {
	ev, err := UnmarshalEvent(frame)
	if err != nil {
		return ack{Reason: err.Error()}.marshal()
	}
	if err := h(ctx, ev); err != nil {
		return ack{Reason: err.Error()}.marshal()
	}
	return ack{Accepted: true}.marshal()
}

func readAck(frame []byte) error {
	a, err := unmarshalAck(frame)
	if err != nil {
		return err
	}
	if !a.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, a.Reason)
	}
	return nil
}
