// Package ws broadcasts pipeline progress and run summaries to connected
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/madcti/cti-go/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client wraps a connection with the write lock gorilla/websocket requires:
// the Conn permits only one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data map[string]any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Manager tracks active WebSocket connections and fans events out to them.
type Manager struct {
	mu      sync.RWMutex
	clients []*client
	store   *store.Store // nil when run history is not configured
	logger  *slog.Logger
}

// NewManager creates a new WebSocket manager. st may be nil.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn}
	m.mu.Lock()
	m.clients = append(m.clients, c)
	m.mu.Unlock()

	m.hydrate(r.Context(), c)

	defer func() {
		m.remove(c)
		conn.Close()
	}()

	// Keep the connection alive; inbound messages are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) remove(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cc := range m.clients {
		if cc == c {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return
		}
	}
}

// hydrate sends recent run history to a freshly connected client.
func (m *Manager) hydrate(ctx context.Context, c *client) {
	if m.store == nil {
		return
	}
	runs, err := m.store.RecentRuns(ctx, 10)
	if err != nil {
		m.logger.Warn("websocket hydrate failed", "err", err)
		return
	}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		c.send(map[string]any{
			"type":             "run",
			"run_id":           r.ID,
			"query":            r.Query,
			"classified_count": r.ClassifiedCount,
			"predicted_count":  r.PredictedCount,
			"dominant_type":    r.DominantType,
			"created_at":       r.CreatedAt.Format(time.RFC3339),
		})
	}
}

// StageEvent implements the pipeline progress notifier.
func (m *Manager) StageEvent(runID, stage, status, detail string) {
	m.Broadcast(map[string]any{
		"type":   "stage",
		"run_id": runID,
		"stage":  stage,
		"status": status,
		"detail": detail,
	})
}

// BroadcastRun announces a finished run to all clients.
func (m *Manager) BroadcastRun(r *store.RunRecord) {
	m.Broadcast(map[string]any{
		"type":             "run",
		"run_id":           r.ID,
		"query":            r.Query,
		"classified_count": r.ClassifiedCount,
		"predicted_count":  r.PredictedCount,
		"dominant_type":    r.DominantType,
		"duration_ms":      r.DurationMS,
	})
}

// Broadcast sends a message to all connected WebSocket clients, dropping
// connections whose writes fail.
func (m *Manager) Broadcast(data map[string]any) {
	m.mu.RLock()
	clients := make([]*client, len(m.clients))
	copy(clients, m.clients)
	m.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			m.remove(c)
			c.conn.Close()
		}
	}
}
