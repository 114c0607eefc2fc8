package stream

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockServer is a websocket endpoint for tests. It records every text
// frame a client sends and replays queued frames to each new connection.
type mockServer struct {
	Server *httptest.Server
	URL    string

	mu          sync.Mutex
	connections []*websocket.Conn
	received    [][]byte
	toSend      [][]byte
	pings       []string
	pongs       []string
	upgrader    websocket.Upgrader
}

func newMockServer() *mockServer {
	m := &mockServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.URL = "ws" + m.Server.URL[4:]
	return m
}

func (m *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Record control frames instead of auto-answering them, so keep-alive
	// tests cannot enter a ping pong feedback loop with the client.
	conn.SetPingHandler(func(payload string) error {
		m.mu.Lock()
		m.pings = append(m.pings, payload)
		m.mu.Unlock()
		return nil
	})
	conn.SetPongHandler(func(payload string) error {
		m.mu.Lock()
		m.pongs = append(m.pongs, payload)
		m.mu.Unlock()
		return nil
	})

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	queued := make([][]byte, len(m.toSend))
	copy(queued, m.toSend)
	m.mu.Unlock()

	go func() {
		for _, msg := range queued {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m.mu.Lock()
			m.received = append(m.received, msg)
			m.mu.Unlock()
		}
	}()
}

// queue adds a frame sent to every connection established afterwards.
func (m *mockServer) queue(msg []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toSend = append(m.toSend, msg)
}

func (m *mockServer) receivedMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockServer) pingPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.pings))
	copy(out, m.pings)
	return out
}

func (m *mockServer) pongPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.pongs))
	copy(out, m.pongs)
	return out
}

func (m *mockServer) connectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// lastConn returns the most recently accepted connection, or nil.
func (m *mockServer) lastConn() *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.connections) == 0 {
		return nil
	}
	return m.connections[len(m.connections)-1]
}

// dropConnections closes active connections while keeping the listener up,
// so clients can reconnect.
func (m *mockServer) dropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		conn.Close()
	}
	m.connections = nil
}

func (m *mockServer) Close() {
	m.dropConnections()
	m.Server.Close()
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
