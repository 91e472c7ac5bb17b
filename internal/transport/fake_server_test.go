package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a minimal socket.io v4 server: it performs the Engine.IO and
// socket.io handshakes and records every frame a client sends afterwards.
type fakeBackend struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *serverConn

	// connectError makes the server reject the socket.io connect.
	connectError bool
}

type serverConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	frames chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *serverConn, 8),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) URL() string {
	return b.server.URL
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io/") || r.URL.Query().Get("EIO") != "4" {
		http.Error(w, "bad handshake", http.StatusBadRequest)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sc := &serverConn{conn: conn, frames: make(chan string, 2048)}
	sc.write(`0{"sid":"eio-sid","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`)

	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != "40" {
		conn.Close()
		return
	}
	if b.connectError {
		sc.write(`44{"message":"unauthorized"}`)
		conn.Close()
		return
	}
	sc.write(`40{"sid":"sio-sid"}`)
	b.conns <- sc

	defer close(sc.frames)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sc.frames <- string(msg)
	}
}

// accept waits for the next connected client.
func (b *fakeBackend) accept() *serverConn {
	b.t.Helper()
	select {
	case sc := <-b.conns:
		return sc
	case <-time.After(5 * time.Second):
		b.t.Fatal("no client connected")
		return nil
	}
}

func (s *serverConn) write(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (s *serverConn) emit(t *testing.T, event string, payload any) {
	t.Helper()
	body, err := json.Marshal([]any{event, payload})
	require.NoError(t, err)
	s.write("42" + string(body))
}

// next returns the next frame the client sent.
func (s *serverConn) next(t *testing.T) string {
	t.Helper()
	select {
	case f, ok := <-s.frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

// rest drains frames until the client goes away.
func (s *serverConn) rest(t *testing.T) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-s.frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("client did not close the connection")
			return out
		}
	}
}

// event splits a socket.io event frame into name and payload.
func event(t *testing.T, frame string) (string, string) {
	t.Helper()
	require.True(t, strings.HasPrefix(frame, "42"), "not an event frame: %s", frame)
	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(frame[2:]), &parts))
	require.Len(t, parts, 2)
	var name string
	require.NoError(t, json.Unmarshal(parts[0], &name))
	return name, string(parts[1])
}
