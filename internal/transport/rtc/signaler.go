package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/Gather/internal/domain"
)

type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
)

// Signal carries one session description between two peers. Candidates
// travel inside the SDP: both sides wait for gathering to complete
// before sending, so signaling is a single round-trip.
type Signal struct {
	From domain.PeerID
	To   domain.PeerID
	Kind SignalKind
	SDP  string
}

// Signaler exchanges Signals with other peers. The transport owns the
// receive channel for the lifetime of the peer.
type Signaler interface {
	Send(sig Signal) error
	Receive() <-chan Signal
}

// SignalHub is an in-process Signaler exchange. Peers sharing one hub
// can establish PeerConnections without any external signaling service.
type SignalHub struct {
	mu      sync.Mutex
	inboxes map[domain.PeerID]chan Signal
}

func NewSignalHub() *SignalHub {
	return &SignalHub{inboxes: make(map[domain.PeerID]chan Signal)}
}

// Bind registers id on the hub and returns its Signaler.
func (h *SignalHub) Bind(id domain.PeerID) Signaler {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.inboxes[id]
	if !ok {
		ch = make(chan Signal, 16)
		h.inboxes[id] = ch
	}
	return &hubSignaler{hub: h, id: id, inbox: ch}
}

type hubSignaler struct {
	hub   *SignalHub
	id    domain.PeerID
	inbox chan Signal
}

func (s *hubSignaler) Send(sig Signal) error {
	sig.From = s.id
	s.hub.mu.Lock()
	inbox, ok := s.hub.inboxes[sig.To]
	s.hub.mu.Unlock()
	if !ok {
		return errors.New("signal: unknown peer")
	}
	inbox <- sig
	return nil
}

func (s *hubSignaler) Receive() <-chan Signal { return s.inbox }
