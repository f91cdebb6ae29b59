package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

// session is one registered peer's websocket. Frames to a backlogged
// peer are dropped rather than stalling the relay.
type session struct {
	id   domain.PeerID
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
	peers  map[domain.PeerID]struct{}
}

func newSession(id domain.PeerID, conn *websocket.Conn) *session {
	return &session{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		peers: make(map[domain.PeerID]struct{}),
	}
}

func (s *session) trySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("session closed")
	}
	select {
	case s.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *session) sendFrame(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal frame")
		return
	}
	if err := s.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("peer", string(s.id)).Str("type", string(f.Type)).Msg("frame dropped")
	}
}

// sawPeer records a correspondent so disconnects can be propagated.
func (s *session) sawPeer(id domain.PeerID) {
	s.mu.Lock()
	s.peers[id] = struct{}{}
	s.mu.Unlock()
}

func (s *session) correspondents() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
	s.mu.Unlock()
}

func (s *session) writePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "relay").Str("peer", string(s.id)).Msg("ping failed")
				return
			}
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Str("peer", string(s.id)).Msg("writePump write error")
				return
			}
		}
	}
}

func (s *session) readPump(ctx context.Context, srv *Server) {
	defer func() {
		log.Info().Str("module", "relay").Str("peer", string(s.id)).Msg("readPump closing")
		srv.unregister(s)
		s.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				return
			}
			srv.route(s, data)
		}
	}
}
