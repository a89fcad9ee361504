package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// FluxProtocol is the stream protocol for energy events.
const FluxProtocol protocol.ID = "/fieldsim/flux/1.0.0"

// maxFrame bounds a single event frame.
const maxFrame = 4 << 20

// P2P carries events over libp2p streams, one stream per event.
type P2P struct {
	host host.Host

	mu      sync.RWMutex
	handler Handler
}

// NewP2P starts a libp2p host listening on the given multiaddrs.
func NewP2P(listen ...string) (*P2P, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listen...))
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}
	t := &P2P{host: h}
	h.SetStreamHandler(FluxProtocol, t.handleStream)
	slog.Info("bridge listening", "peer", h.ID(), "addrs", h.Addrs())
	return t, nil
}

// Addr returns the first full /p2p address of the host, or "".
func (t *P2P) Addr() string {
	addrs := t.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0], t.host.ID())
}

func (t *P2P) Serve(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *P2P) handleStream(s network.Stream) {
	defer s.Close()

	frame, err := io.ReadAll(io.LimitReader(s, maxFrame))
	if err != nil {
		slog.Warn("bridge read failed", "peer", s.Conn().RemotePeer(), "error", err)
		s.Reset()
		return
	}
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()

	var reply []byte
	if h == nil {
		reply = ack{Reason: "not serving"}.marshal()
	} else {
		reply = handleFrame(context.Background(), h, frame)
	}
	if _, err := s.Write(reply); err != nil {
		slog.Warn("bridge ack failed", "peer", s.Conn().RemotePeer(), "error", err)
	}
}

// Send dials addr (a multiaddr ending in /p2p/<id>) and delivers ev.
func (t *P2P) Send(ctx context.Context, addr string, ev Event) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse peer addr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownPeer, err)
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	s, err := t.host.NewStream(ctx, info.ID, FluxProtocol)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer s.Close()

	if _, err := s.Write(ev.Marshal()); err != nil {
		s.Reset()
		return fmt.Errorf("write event: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		s.Reset()
		return fmt.Errorf("close write: %w", err)
	}
	reply, err := io.ReadAll(io.LimitReader(s, maxFrame))
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	return readAck(reply)
}

// Close shuts the host down.
func (t *P2P) Close() error {
	return t.host.Close()
}
