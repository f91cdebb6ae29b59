// Package rtc implements the peer transport over WebRTC data channels.
// Session descriptions travel through a Signaler; once the channel is
// up, envelopes flow peer to peer with no relay in the path.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
	"github.com/dkeye/Gather/internal/transport"
	"github.com/dkeye/Gather/internal/wire"
)

const dataChannelLabel = "group"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Peer is one endpoint identity on the WebRTC transport.
type Peer struct {
	id       domain.PeerID
	cfg      webrtc.Configuration
	signaler Signaler

	mu      sync.Mutex
	onConn  func(transport.Conn)
	answers map[domain.PeerID]chan Signal
	pcs     []*webrtc.PeerConnection

	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Peer = (*Peer)(nil)

// NewPeer creates a peer identity on the given signaler and starts
// consuming inbound signals.
func NewPeer(id domain.PeerID, signaler Signaler, cfg webrtc.Configuration) *Peer {
	p := &Peer{
		id:       id,
		cfg:      cfg,
		signaler: signaler,
		answers:  make(map[domain.PeerID]chan Signal),
		closed:   make(chan struct{}),
	}
	go p.signalLoop()
	return p
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) OnConnection(fn func(transport.Conn)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

// Connect dials target: it opens the data channel, publishes an offer
// with gathering complete, and waits for the answer and the channel
// opening.
func (p *Peer) Connect(ctx context.Context, target domain.PeerID) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(p.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: new pc: %w", target, err)
	}
	p.track(pc)

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("connect %s: data channel: %w", target, err)
	}
	c := newConn(target, pc, dc)

	answerCh := make(chan Signal, 1)
	p.mu.Lock()
	p.answers[target] = answerCh
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.answers, target)
		p.mu.Unlock()
	}()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("connect %s: offer: %w", target, err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("connect %s: local description: %w", target, err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	if err := p.signaler.Send(Signal{To: target, Kind: SignalOffer, SDP: pc.LocalDescription().SDP}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}

	select {
	case answer := <-answerCh:
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
		if err := pc.SetRemoteDescription(desc); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("connect %s: remote description: %w", target, err)
		}
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	case <-p.closed:
		_ = pc.Close()
		return nil, transport.ErrClosed
	}

	select {
	case <-c.opened:
		return c, nil
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	case <-p.closed:
		_ = pc.Close()
		return nil, transport.ErrClosed
	}
}

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.mu.Lock()
		pcs := p.pcs
		p.pcs = nil
		p.mu.Unlock()
		for _, pc := range pcs {
			_ = pc.Close()
		}
	})
	return nil
}

func (p *Peer) track(pc *webrtc.PeerConnection) {
	p.mu.Lock()
	p.pcs = append(p.pcs, pc)
	p.mu.Unlock()
}

func (p *Peer) signalLoop() {
	for {
		select {
		case <-p.closed:
			return
		case sig := <-p.signaler.Receive():
			switch sig.Kind {
			case SignalOffer:
				go p.handleOffer(sig)
			case SignalAnswer:
				p.mu.Lock()
				ch := p.answers[sig.From]
				p.mu.Unlock()
				if ch != nil {
					ch <- sig
				}
			default:
				log.Warn().Str("module", "transport.rtc").Str("kind", string(sig.Kind)).Msg("unknown signal")
			}
		}
	}
}

// handleOffer answers an inbound dial and surfaces the connection once
// the remote's data channel opens.
func (p *Peer) handleOffer(sig Signal) {
	pc, err := webrtc.NewPeerConnection(p.cfg)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.rtc").Msg("new pc")
		return
	}
	p.track(pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		c := newConn(sig.From, pc, dc)
		go func() {
			select {
			case <-c.opened:
			case <-p.closed:
				return
			}
			p.mu.Lock()
			accept := p.onConn
			p.mu.Unlock()
			if accept != nil {
				accept(c)
			}
		}()
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "transport.rtc").Msg("apply offer")
		_ = pc.Close()
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.rtc").Msg("create answer")
		_ = pc.Close()
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "transport.rtc").Msg("local description")
		_ = pc.Close()
		return
	}
	<-gatherComplete

	if err := p.signaler.Send(Signal{To: sig.From, Kind: SignalAnswer, SDP: pc.LocalDescription().SDP}); err != nil {
		log.Error().Err(err).Str("module", "transport.rtc").Msg("send answer")
		_ = pc.Close()
	}
}

// conn wraps one data channel. Inbound envelopes arriving before OnData
// is registered are buffered and flushed on registration.
type conn struct {
	remoteID domain.PeerID
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	opened   chan struct{}

	mu       sync.Mutex
	closed   bool
	onData   func(wire.Envelope)
	onClose  func()
	backlog  []wire.Envelope
	openOnce sync.Once
}

var _ transport.Conn = (*conn)(nil)

func newConn(remoteID domain.PeerID, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *conn {
	c := &conn{remoteID: remoteID, pc: pc, dc: dc, opened: make(chan struct{})}
	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
	})
	dc.OnClose(func() { c.shutdown() })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		env, err := wire.Decode(msg.Data)
		if err != nil {
			log.Error().Err(err).Str("module", "transport.rtc").Str("peer", string(c.remoteID)).Msg("bad envelope")
			return
		}
		c.deliver(env)
	})
	return c
}

func (c *conn) RemoteID() domain.PeerID { return c.remoteID }

func (c *conn) OnData(fn func(wire.Envelope)) {
	c.mu.Lock()
	c.onData = fn
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, env := range backlog {
		fn(env)
	}
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
	b, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return c.dc.Send(b)
}

func (c *conn) Close() error {
	_ = c.dc.Close()
	_ = c.pc.Close()
	c.shutdown()
	return nil
}

func (c *conn) deliver(env wire.Envelope) {
	c.mu.Lock()
	fn := c.onData
	if fn == nil {
		c.backlog = append(c.backlog, env)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(env)
}

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
