package transport

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/cfg"
	"github.com/verdant/ordernotify/notify"
	"github.com/verdant/ordernotify/telemetry"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultReadLimit    = 4096
)

// Dispatcher is the part of notify.Dispatcher the server drives
type Dispatcher interface {
	OnConnect(recipient notify.RecipientID, t notify.Transport)
	Detach(recipient notify.RecipientID, t notify.Transport) bool
}

// Config configures a Server
type Config struct {
	WriteTimeout        time.Duration
	PingInterval        time.Duration
	PongTimeout         time.Duration
	ReadLimit           int64
	AllowedOrigins      []string // Empty = any origin
	DefaultRecipient    notify.RecipientID
	AllowRecipientParam bool // Honor ?recipient= on connect
}

// ConfigFromSettings maps the websocket and notify configuration sections
func ConfigFromSettings(ws cfg.WebSocketConfiguration, notifyCfg cfg.NotifyConfiguration) Config {
	return Config{
		WriteTimeout:        time.Duration(ws.WriteTimeoutMS) * time.Millisecond,
		PingInterval:        time.Duration(ws.PingIntervalMS) * time.Millisecond,
		PongTimeout:         time.Duration(ws.PongTimeoutMS) * time.Millisecond,
		ReadLimit:           ws.ReadLimitBytes,
		AllowedOrigins:      ws.AllowedOrigins,
		DefaultRecipient:    notify.RecipientID(notifyCfg.DefaultRecipient),
		AllowRecipientParam: ws.AllowRecipientParam,
	}
}

// Server upgrades HTTP requests to websocket sessions and reports their
// lifecycle to the dispatcher: connect on upgrade, detach on close.
type Server struct {
	config     Config
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	sessions   *xsync.MapOf[string, *Conn]
	wg         sync.WaitGroup
	closeMu    sync.Mutex // orders wg.Add against Shutdown
	closing    atomic.Bool
}

// NewServer creates a websocket server
func NewServer(config Config, dispatcher Dispatcher) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if config.DefaultRecipient == "" && !config.AllowRecipientParam {
		return nil, fmt.Errorf("default recipient is required unless recipient param is allowed")
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.PongTimeout <= config.PingInterval {
		return nil, fmt.Errorf("pong timeout must exceed ping interval")
	}
	if config.ReadLimit == 0 {
		config.ReadLimit = DefaultReadLimit
	}

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		sessions:   xsync.NewMapOf[string, *Conn](),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// resolveRecipient picks the recipient for a new session
func (s *Server) resolveRecipient(r *http.Request) (notify.RecipientID, bool) {
	if s.config.AllowRecipientParam {
		if param := r.URL.Query().Get("recipient"); param != "" {
			return notify.RecipientID(param), true
		}
	}
	return s.config.DefaultRecipient, s.config.DefaultRecipient != ""
}

// enter counts a new session in wg unless Shutdown has started
func (s *Server) enter() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// ServeHTTP upgrades the request and runs the session until the client goes away
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.enter() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	recipient, ok := s.resolveRecipient(r)
	if !ok {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	conn := newConn(ws, uuid.NewString(), recipient, s.config.WriteTimeout)
	s.sessions.Store(conn.id, conn)
	telemetry.TransportSessions.Inc()
	if s.closing.Load() {
		// Raced with Shutdown; the session ends as soon as it starts
		conn.Close()
	}

	log.Info().
		Str("session", conn.id).
		Str("recipient", string(recipient)).
		Str("remote_addr", r.RemoteAddr).
		Msg("Websocket session opened")

	ws.SetReadLimit(s.config.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	s.dispatcher.OnConnect(recipient, conn)

	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing)

	s.readLoop(conn)

	close(stopPing)
	s.dispatcher.Detach(recipient, conn)
	conn.Close()
	s.sessions.Delete(conn.id)
	telemetry.TransportSessions.Dec()

	log.Info().
		Str("session", conn.id).
		Str("recipient", string(recipient)).
		Msg("Websocket session closed")
}

// readLoop consumes client frames until the connection fails. Clients have
// nothing to say; reading keeps control frames flowing and detects closes.
func (s *Server) readLoop(conn *Conn) {
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("session", conn.id).Msg("Websocket read failed")
			}
			return
		}
	}
}

func (s *Server) pingLoop(conn *Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("session", conn.id).Msg("Websocket ping failed")
				conn.ws.Close()
				return
			}
		}
	}
}

// Sessions returns the open sessions ordered by connect time
func (s *Server) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, s.sessions.Size())
	s.sessions.Range(func(_ string, c *Conn) bool {
		out = append(out, c.info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// SessionCount returns the number of open sessions
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

// Shutdown refuses new sessions, closes open ones and waits for their
// handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	s.closing.Store(true)
	s.closeMu.Unlock()

	s.sessions.Range(func(_ string, c *Conn) bool {
		c.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
