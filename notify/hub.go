// Package notify pushes ride events to connected clients over WebSocket.
// Delivery is at most once: a message for a client whose queue is full, or
// who is not connected, is dropped.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/user"
)

const (
	TypeAuth          = "auth"
	TypeAuthOK        = "auth:ok"
	TypeAuthError     = "auth:error"
	TypeRideNew       = "ride:new"
	TypeRideAccepted  = "ride:accepted"
	TypeRideStarted   = "ride:started"
	TypeRideCompleted = "ride:completed"
)

// Message is the envelope of every server frame.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// clientFrame is what clients send. Only auth frames are understood.
type clientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

type session struct {
	conn *websocket.Conn
	send chan []byte
	// identity is nil until the client authenticates. Guarded by Hub.mu.
	identity *auth.Identity
}

// Hub tracks open sessions and fans messages out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}

	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	queueSize  int
	pongWait   time.Duration
	pingPeriod time.Duration
	writeWait  time.Duration

	messages *prometheus.CounterVec
	open     prometheus.Gauge
}

type Option func(*Hub)

// WithQueueSize sets how many outbound frames a session buffers before dropping.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// WithKeepalive sets how long a silent client is kept; pings go out at 9/10 of that.
func WithKeepalive(pongWait time.Duration) Option {
	return func(h *Hub) {
		h.pongWait = pongWait
		h.pingPeriod = pongWait * 9 / 10
	}
}

// WithRegisterer exports hub counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { reg.MustRegister(h.messages, h.open) }
}

func NewHub(verifier TokenVerifier, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[*session]struct{}),
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate in-band, so any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:        time.Now,
		queueSize:  64,
		pongWait:   60 * time.Second,
		pingPeriod: 54 * time.Second,
		writeWait:  10 * time.Second,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notify_messages_total",
				Help: "Total number of notification frames by type and delivery result",
			},
			[]string{"type", "result"},
		),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notify_sessions",
			Help: "Number of open WebSocket sessions",
		}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeWS upgrades the request and serves the session until the client leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	s := &session{conn: conn, send: make(chan []byte, h.queueSize)}
	h.add(s)
	go h.writeLoop(s)
	h.readLoop(r.Context(), s)
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.open.Inc()
}

// remove unregisters s and closes its queue, which stops the writer.
func (h *Hub) remove(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	close(s.send)
	h.mu.Unlock()
	h.open.Dec()
}

func (h *Hub) readLoop(ctx context.Context, s *session) {
	defer func() {
		h.remove(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != TypeAuth {
			h.logger.Debug("ignoring client frame", "type", frame.Type)
			continue
		}
		h.authenticate(ctx, s, frame.Token)
	}
}

// authenticate binds s to the token's identity. A failed attempt leaves any
// earlier identity in place and the socket open.
func (h *Hub) authenticate(ctx context.Context, s *session, token string) {
	id, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.logger.Info("websocket authentication failed", "error", err)
		h.reply(s, Message{Type: TypeAuthError, Payload: map[string]string{"message": "invalid token"}})
		return
	}

	h.mu.Lock()
	s.identity = &id
	h.mu.Unlock()

	h.logger.Info("websocket authenticated", "user_id", id.UserID, "role", id.Role.String())
	h.reply(s, Message{Type: TypeAuthOK, Payload: map[string]string{"userId": id.UserID.String(), "role": id.Role.String()}})
}

func (h *Hub) reply(s *session, msg Message) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, open := h.sessions[s]; open {
		h.enqueue(s, msg.Type, data)
	}
}

func (h *Hub) writeLoop(s *session) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send delivers msg to every authenticated session of userID and reports how
// many sessions it was queued on.
func (h *Hub) Send(userID uuid.UUID, msg Message) int {
	return h.fanOut(msg, func(s *session) bool {
		return s.identity != nil && s.identity.UserID == userID
	})
}

// Broadcast delivers msg to every session authenticated with role, or to
// every open session when role is user.RoleUnknown.
func (h *Hub) Broadcast(role user.Role, msg Message) int {
	return h.fanOut(msg, func(s *session) bool {
		if role == user.RoleUnknown {
			return true
		}
		return s.identity != nil && s.identity.Role == role
	})
}

func (h *Hub) fanOut(msg Message, match func(*session) bool) int {
	data, ok := h.encode(msg)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.sessions {
		if match(s) && h.enqueue(s, msg.Type, data) {
			delivered++
		}
	}
	return delivered
}

// enqueue must be called with h.mu held so s.send cannot be closed underneath it.
func (h *Hub) enqueue(s *session, typ string, data []byte) bool {
	select {
	case s.send <- data:
		h.messages.WithLabelValues(typ, "queued").Inc()
		return true
	default:
		h.messages.WithLabelValues(typ, "dropped").Inc()
		return false
	}
}

func (h *Hub) encode(msg Message) ([]byte, bool) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode notification", "type", msg.Type, "error", err)
		return nil, false
	}
	return data, true
}

// Sessions reports the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.remove(s)
	}
}
