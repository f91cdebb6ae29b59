// Package mem is an in-process transport. Delivery is synchronous on the
// sender's goroutine and ordered per connection, which keeps protocol
// tests deterministic.
package mem

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/transport"
	"github.com/dkeye/Gather/internal/wire"
)

// Network wires Peers together. All peers on one Network can reach each
// other by id.
type Network struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*Peer
}

func NewNetwork() *Network {
	return &Network{peers: make(map[domain.PeerID]*Peer)}
}

// NewPeer registers a peer under a generated id.
func (n *Network) NewPeer() *Peer {
	return n.NewPeerWithID(domain.PeerID(uuid.NewString()))
}

// NewPeerWithID registers a peer under the given id, replacing any
// previous registration for it.
func (n *Network) NewPeerWithID(id domain.PeerID) *Peer {
	p := &Peer{net: n, id: id}
	n.mu.Lock()
	n.peers[id] = p
	n.mu.Unlock()
	log.Debug().Str("module", "transport.mem").Str("peer", string(id)).Msg("peer registered")
	return p
}

func (n *Network) lookup(id domain.PeerID) (*Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *Network) remove(id domain.PeerID) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

// Peer implements transport.Peer over the in-process network.
type Peer struct {
	net *Network
	id  domain.PeerID

	mu     sync.Mutex
	closed bool
	onConn func(transport.Conn)
	conns  []*conn
}

var _ transport.Peer = (*Peer)(nil)

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) OnConnection(fn func(transport.Conn)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

func (p *Peer) Connect(_ context.Context, target domain.PeerID) (transport.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrClosed
	}
	p.mu.Unlock()

	remote, ok := p.net.lookup(target)
	if !ok {
		return nil, transport.ErrUnknownPeer
	}

	remote.mu.Lock()
	accept := remote.onConn
	remote.mu.Unlock()
	if accept == nil {
		// A peer that never registered a handler is not listening.
		return nil, transport.ErrUnknownPeer
	}

	local := &conn{remoteID: target}
	far := &conn{remoteID: p.id}
	local.other, far.other = far, local

	p.track(local)
	remote.track(far)

	accept(far)
	return local, nil
}

func (p *Peer) track(c *conn) {
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	p.net.remove(p.id)
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// conn is one half of an in-process connection pair.
type conn struct {
	remoteID domain.PeerID
	other    *conn

	mu      sync.Mutex
	closed  bool
	onData  func(wire.Envelope)
	onClose func()
}

var _ transport.Conn = (*conn)(nil)

func (c *conn) RemoteID() domain.PeerID { return c.remoteID }

func (c *conn) OnData(fn func(wire.Envelope)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *conn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *conn) Send(env wire.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	other := c.other
	other.mu.Lock()
	fn := other.onData
	closed = other.closed
	other.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if fn != nil {
		fn(env)
	}
	return nil
}

func (c *conn) Close() error {
	if !c.shutdown() {
		return nil
	}
	c.other.shutdown()
	return nil
}

// shutdown marks the half closed and fires its close callback once.
func (c *conn) shutdown() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
