package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Gather/internal/config"
	"github.com/dkeye/Gather/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server routes frames between registered peers. It holds no group
// state; moderation and membership live entirely in the hosts using it.
type Server struct {
	cfg *config.Config

	mu       sync.RWMutex
	sessions map[domain.PeerID]*session
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:      cfg,
		sessions: make(map[domain.PeerID]*session),
	}
}

// PeerTokenMiddleware assigns every browser a stable peer token cookie.
func PeerTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("pt")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("pt", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("peer_token", token)
		c.Next()
	}
}

// SetupRouter builds the gin engine serving the websocket endpoint.
func (srv *Server) SetupRouter(ctx context.Context) *gin.Engine {
	if srv.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if srv.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(srv.cfg.Secret))
	r.Use(sessions.Sessions("GatherSessions", store))
	r.Use(PeerTokenMiddleware())

	r.GET("/ws", func(c *gin.Context) {
		srv.handleWS(ctx, c)
	})

	log.Info().Str("module", "relay").Msg("router setup")
	return r
}

func (srv *Server) handleWS(ctx context.Context, c *gin.Context) {
	id := domain.PeerID(c.Query("id"))
	if id == "" {
		id = domain.PeerID(c.GetString("peer_token"))
	}
	log.Info().Str("module", "relay").Str("peer", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	ws.SetReadLimit(srv.cfg.ReadLimit)
	readWait := srv.cfg.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})
	s := newSession(id, ws)
	srv.register(s)
	s.sendFrame(Frame{Type: FrameWelcome, ID: id})

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		s.writePump(ctx, srv.cfg.PingPeriod)
		cancel()
	}()
	go func() {
		s.readPump(ctx, srv)
		cancel()
	}()
}

func (srv *Server) register(s *session) {
	srv.mu.Lock()
	old, ok := srv.sessions[s.id]
	srv.sessions[s.id] = s
	srv.mu.Unlock()
	if ok {
		// A reconnect replaces the previous session.
		old.close()
	}
	log.Info().Str("module", "relay").Str("peer", string(s.id)).Msg("peer registered")
}

func (srv *Server) unregister(s *session) {
	srv.mu.Lock()
	if srv.sessions[s.id] == s {
		delete(srv.sessions, s.id)
	}
	srv.mu.Unlock()

	// Tell everyone this peer talked to that it is gone.
	for _, id := range s.correspondents() {
		if target, ok := srv.lookup(id); ok {
			target.sendFrame(Frame{Type: FrameClose, From: s.id})
		}
	}
	log.Info().Str("module", "relay").Str("peer", string(s.id)).Msg("peer unregistered")
}

func (srv *Server) lookup(id domain.PeerID) (*session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.sessions[id]
	return s, ok
}

// route forwards one frame from s, stamping the sender.
func (srv *Server) route(s *session, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("peer", string(s.id)).Msg("bad frame")
		s.sendFrame(Frame{Type: FrameError, Error: "bad_frame"})
		return
	}

	switch f.Type {
	case FrameConnect, FrameAccept, FrameData, FrameClose:
		target, ok := srv.lookup(f.To)
		if !ok {
			s.sendFrame(Frame{Type: FrameError, To: f.To, Error: "unknown_peer"})
			return
		}
		s.sawPeer(f.To)
		target.sawPeer(s.id)
		target.sendFrame(Frame{Type: f.Type, From: s.id, Payload: f.Payload})
	default:
		log.Warn().Str("module", "relay").Str("peer", string(s.id)).Str("type", string(f.Type)).Msg("unknown frame")
		s.sendFrame(Frame{Type: FrameError, Error: "unknown_frame_type"})
	}
}
