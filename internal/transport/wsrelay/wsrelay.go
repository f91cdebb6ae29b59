// Package wsrelay implements the peer transport over a relay server.
// Each peer keeps one websocket to the relay; logical connections to
// other peers are multiplexed over it as routed frames.
//
// Inbound connection and data callbacks fire sequentially on the peer's
// read loop, so handlers registered inside OnConnection are in place
// before the next frame is processed.
package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/relay"
	"github.com/dkeye/Gather/internal/transport"
	"github.com/dkeye/Gather/internal/wire"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

// Peer is one endpoint identity registered on a relay server.
type Peer struct {
	ws   *websocket.Conn
	id   domain.PeerID
	send chan []byte

	mu      sync.Mutex
	conns   map[domain.PeerID]*conn
	accepts map[domain.PeerID]chan *conn
	onConn  func(transport.Conn)

	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Peer = (*Peer)(nil)

// Dial registers a peer with the relay at rawURL (a ws:// or wss:// URL
// of the relay's /ws endpoint). A non-empty id requests that identifier;
// otherwise the relay assigns one. Dial returns once the relay confirmed
// the registration.
func Dial(ctx context.Context, rawURL string, id domain.PeerID) (*Peer, error) {
	if id != "" {
		rawURL = rawURL + "?id=" + string(id)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	// The first frame is the relay's welcome carrying the assigned id.
	var welcome relay.Frame
	if err := ws.ReadJSON(&welcome); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != relay.FrameWelcome || welcome.ID == "" {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected frame %q before welcome", welcome.Type)
	}

	p := &Peer{
		ws:      ws,
		id:      welcome.ID,
		send:    make(chan []byte, sendBuffer),
		conns:   make(map[domain.PeerID]*conn),
		accepts: make(map[domain.PeerID]chan *conn),
		closed:  make(chan struct{}),
	}
	go p.writePump()
	go p.readLoop()
	log.Info().Str("module", "transport.wsrelay").Str("peer", string(p.id)).Msg("registered with relay")
	return p, nil
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) OnConnection(fn func(transport.Conn)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

// Connect opens a logical connection to target, waiting for the remote
// peer's accept.
func (p *Peer) Connect(ctx context.Context, target domain.PeerID) (transport.Conn, error) {
	ch := make(chan *conn, 1)
	p.mu.Lock()
	if _, exists := p.conns[target]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("connect %s: already connected", target)
	}
	p.accepts[target] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.accepts, target)
		p.mu.Unlock()
	}()

	if err := p.writeFrame(relay.Frame{Type: relay.FrameConnect, To: target}); err != nil {
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}

	select {
	case c := <-ch:
		if c == nil {
			return nil, fmt.Errorf("connect %s: %w", target, transport.ErrUnknownPeer)
		}
		return c, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("connect %s: %w", target, ctx.Err())
	case <-p.closed:
		return nil, transport.ErrClosed
	}
}

// Close disconnects from the relay. Every logical connection drops with
// it.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.ws.Close()
		p.mu.Lock()
		conns := make([]*conn, 0, len(p.conns))
		for _, c := range p.conns {
			conns = append(conns, c)
		}
		p.conns = map[domain.PeerID]*conn{}
		p.mu.Unlock()
		for _, c := range conns {
			c.shutdown()
		}
	})
	return nil
}

func (p *Peer) readLoop() {
	defer func() { _ = p.Close() }()
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Error().Err(err).Str("module", "transport.wsrelay").Msg("bad frame")
			continue
		}
		p.handleFrame(f)
	}
}

func (p *Peer) handleFrame(f relay.Frame) {
	switch f.Type {
	case relay.FrameConnect:
		p.handleConnect(f.From)
	case relay.FrameAccept:
		p.handleAccept(f.From)
	case relay.FrameData:
		p.handleData(f)
	case relay.FrameClose:
		p.mu.Lock()
		c := p.conns[f.From]
		delete(p.conns, f.From)
		p.mu.Unlock()
		if c != nil {
			c.shutdown()
		}
	case relay.FrameError:
		p.handleError(f)
	case relay.FrameWelcome:
		// Consumed in Dial; a duplicate is harmless.
	default:
		log.Warn().Str("module", "transport.wsrelay").Str("type", string(f.Type)).Msg("unknown frame")
	}
}

func (p *Peer) handleConnect(from domain.PeerID) {
	c := &conn{peer: p, remoteID: from}
	p.mu.Lock()
	old := p.conns[from]
	p.conns[from] = c
	accept := p.onConn
	p.mu.Unlock()
	if old != nil {
		old.shutdown()
	}

	if err := p.writeFrame(relay.Frame{Type: relay.FrameAccept, To: from}); err != nil {
		log.Error().Err(err).Str("module", "transport.wsrelay").Str("peer", string(from)).Msg("accept failed")
		return
	}
	if accept != nil {
		accept(c)
	}
}

func (p *Peer) handleAccept(from domain.PeerID) {
	c := &conn{peer: p, remoteID: from}
	p.mu.Lock()
	ch := p.accepts[from]
	if ch != nil {
		p.conns[from] = c
	}
	p.mu.Unlock()
	if ch == nil {
		log.Warn().Str("module", "transport.wsrelay").Str("peer", string(from)).Msg("unexpected accept")
		return
	}
	ch <- c
}

func (p *Peer) handleData(f relay.Frame) {
	p.mu.Lock()
	c := p.conns[f.From]
	p.mu.Unlock()
	if c == nil {
		log.Warn().Str("module", "transport.wsrelay").Str("peer", string(f.From)).Msg("data without connection")
		return
	}
	env, err := wire.Decode(f.Payload)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.wsrelay").Str("peer", string(f.From)).Msg("bad envelope")
		return
	}
	c.deliver(env)
}

func (p *Peer) handleError(f relay.Frame) {
	log.Warn().Str("module", "transport.wsrelay").Str("target", string(f.To)).Str("error", f.Error).Msg("relay error")
	if f.To == "" {
		return
	}
	// A routing error for a pending connect fails it.
	p.mu.Lock()
	ch := p.accepts[f.To]
	p.mu.Unlock()
	if ch != nil {
		ch <- nil
	}
}

func (p *Peer) writeFrame(f relay.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-p.closed:
		return transport.ErrClosed
	case p.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *Peer) writePump() {
	for {
		select {
		case <-p.closed:
			return
		case data := <-p.send:
			if err := p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport.wsrelay").Msg("writePump write error")
				return
			}
		}
	}
}

// conn is one logical connection multiplexed over the relay websocket.
type conn struct {
	peer     *Peer
	remoteID domain.PeerID

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
	payload, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return c.peer.writeFrame(relay.Frame{Type: relay.FrameData, To: c.remoteID, Payload: payload})
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_ = c.peer.writeFrame(relay.Frame{Type: relay.FrameClose, To: c.remoteID})
	c.peer.mu.Lock()
	if c.peer.conns[c.remoteID] == c {
		delete(c.peer.conns, c.remoteID)
	}
	c.peer.mu.Unlock()
	c.shutdown()
	return nil
}

func (c *conn) deliver(env wire.Envelope) {
	c.mu.Lock()
	fn := c.onData
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if fn == nil {
		log.Warn().Str("module", "transport.wsrelay").Str("peer", string(c.remoteID)).Msg("envelope before OnData registered")
		return
	}
	fn(env)
}

// shutdown marks the connection closed and fires the close callback once.
func (c *conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
