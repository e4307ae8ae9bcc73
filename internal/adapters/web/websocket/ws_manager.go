// Package websocket streams journal events to diagnostics clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
)

const (
	writeWait    = 5 * time.Second
	backlogSize  = 256
	replayEvents = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts clients without an Origin header and browsers served
// by this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host != r.Host {
		slog.Warn("WebSocket: rejected origin", "origin", origin)
		return false
	}
	return true
}

type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Manager fans journal events out to every connected client.
type Manager struct {
	journal ports.EventJournal
	events  chan domain.Event
	dropped atomic.Uint64

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewManager(j ports.EventJournal) *Manager {
	return &Manager{
		journal: j,
		events:  make(chan domain.Event, backlogSize),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Start subscribes to the journal and broadcasts until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	cancel := m.journal.Subscribe(func(ev domain.Event) {
		select {
		case m.events <- ev:
		default:
			m.dropped.Add(1)
		}
	})
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				m.closeAll()
				return
			case ev := <-m.events:
				m.broadcast(WSMessage{Type: "event", Payload: ev})
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (m *Manager) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// HandleWebSocket upgrades the request and replays the newest events before
// live ones.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket: upgrade failed", "error", err)
		return
	}

	recent, err := m.journal.Recent(r.Context(), replayEvents)
	if err != nil {
		slog.Warn("WebSocket: journal replay failed", "error", err)
	}

	m.mu.Lock()
	// oldest first, so the client sees them in order
	for i := len(recent) - 1; i >= 0; i-- {
		if err := m.writeLocked(conn, WSMessage{Type: "event", Payload: recent[i]}); err != nil {
			m.mu.Unlock()
			conn.Close()
			return
		}
	}
	m.clients[conn] = struct{}{}
	m.mu.Unlock()
	slog.Debug("WebSocket connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.clients, conn)
			m.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (m *Manager) broadcast(msg WSMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		if err := m.writeLocked(conn, msg); err != nil {
			conn.Close()
			delete(m.clients, conn)
		}
	}
}

func (m *Manager) writeLocked(conn *websocket.Conn, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(m.clients, conn)
	}
}
