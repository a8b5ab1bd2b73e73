package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/user"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeVerifier map[string]auth.Identity

func (f fakeVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	id, ok := f[token]
	if !ok {
		return auth.Identity{}, errors.New("bad token")
	}
	return id, nil
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, v TokenVerifier, opts ...Option) (*Hub, string) {
	t.Helper()
	hub := NewHub(v, discardLogger, opts...)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	return msg
}

// expectSilence fails if a frame arrives within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var msg received
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("expected no frame, got %s", msg.Type)
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) received {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": TypeAuth, "token": token}); err != nil {
		t.Fatalf("failed to write auth frame: %v", err)
	}
	return read(t, conn)
}

func waitSessions(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sessions, have %d", n, hub.Sessions())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_SendToAuthenticatedUser(t *testing.T) {
	passenger := auth.Identity{UserID: uuid.New(), Role: user.RolePassenger}
	hub, url := startHub(t, fakeVerifier{"p": passenger})

	conn := dial(t, url)
	if got := authenticate(t, conn, "p"); got.Type != TypeAuthOK {
		t.Fatalf("expected %s, got %s", TypeAuthOK, got.Type)
	}

	if n := hub.Send(passenger.UserID, Message{Type: TypeRideStarted, Payload: map[string]string{"id": "r1"}}); n != 1 {
		t.Fatalf("expected delivery to 1 session, got %d", n)
	}
	msg := read(t, conn)
	if msg.Type != TypeRideStarted {
		t.Errorf("expected %s, got %s", TypeRideStarted, msg.Type)
	}

	if n := hub.Send(uuid.New(), Message{Type: TypeRideStarted}); n != 0 {
		t.Errorf("expected no delivery to an unknown user, got %d", n)
	}
}

func TestHub_FailedAuthKeepsSocketOpen(t *testing.T) {
	driver := auth.Identity{UserID: uuid.New(), Role: user.RoleDriver}
	hub, url := startHub(t, fakeVerifier{"d": driver})

	conn := dial(t, url)
	if got := authenticate(t, conn, "wrong"); got.Type != TypeAuthError {
		t.Fatalf("expected %s, got %s", TypeAuthError, got.Type)
	}
	waitSessions(t, hub, 1)

	if n := hub.Broadcast(user.RoleDriver, Message{Type: TypeRideNew}); n != 0 {
		t.Errorf("expected unauthenticated session to be skipped, got %d", n)
	}

	// The same socket can still authenticate.
	if got := authenticate(t, conn, "d"); got.Type != TypeAuthOK {
		t.Fatalf("expected %s, got %s", TypeAuthOK, got.Type)
	}
	if n := hub.Broadcast(user.RoleDriver, Message{Type: TypeRideNew}); n != 1 {
		t.Errorf("expected delivery after re-auth, got %d", n)
	}
	if msg := read(t, conn); msg.Type != TypeRideNew {
		t.Errorf("expected %s, got %s", TypeRideNew, msg.Type)
	}
}

func TestHub_BroadcastRoleFilter(t *testing.T) {
	v := fakeVerifier{
		"d1": {UserID: uuid.New(), Role: user.RoleDriver},
		"d2": {UserID: uuid.New(), Role: user.RoleDriver},
		"p":  {UserID: uuid.New(), Role: user.RolePassenger},
	}
	hub, url := startHub(t, v)

	d1, d2, p := dial(t, url), dial(t, url), dial(t, url)
	anon := dial(t, url)
	authenticate(t, d1, "d1")
	authenticate(t, d2, "d2")
	authenticate(t, p, "p")
	waitSessions(t, hub, 4)

	if n := hub.Broadcast(user.RoleDriver, Message{Type: TypeRideNew}); n != 2 {
		t.Fatalf("expected 2 driver sessions, got %d", n)
	}
	read(t, d1)
	read(t, d2)
	expectSilence(t, p)

	// anon has never hit a read deadline, so it can still receive.
	if n := hub.Broadcast(user.RoleUnknown, Message{Type: "notice"}); n != 4 {
		t.Errorf("expected broadcast to all 4 sessions, got %d", n)
	}
	msg := read(t, anon)
	if msg.Type != "notice" {
		t.Errorf("expected unauthenticated session to receive the open broadcast, got %s", msg.Type)
	}
	if msg := read(t, d1); msg.Type != "notice" {
		t.Errorf("expected driver session to receive the open broadcast, got %s", msg.Type)
	}
}

func TestHub_DisconnectRemovesSession(t *testing.T) {
	hub, url := startHub(t, fakeVerifier{})
	conn := dial(t, url)
	waitSessions(t, hub, 1)

	conn.Close()
	waitSessions(t, hub, 0)
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	hub := NewHub(fakeVerifier{}, discardLogger, WithQueueSize(1))
	id := auth.Identity{UserID: uuid.New(), Role: user.RolePassenger}
	// A session without a writer never drains its queue.
	s := &session{send: make(chan []byte, 1), identity: &id}
	hub.mu.Lock()
	hub.sessions[s] = struct{}{}
	hub.mu.Unlock()

	if n := hub.Send(id.UserID, Message{Type: TypeRideAccepted}); n != 1 {
		t.Fatalf("expected first message queued, got %d", n)
	}
	if n := hub.Send(id.UserID, Message{Type: TypeRideStarted}); n != 0 {
		t.Errorf("expected second message dropped, got %d", n)
	}
	if len(s.send) != 1 {
		t.Errorf("expected 1 queued frame, got %d", len(s.send))
	}
}
