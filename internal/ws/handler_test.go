package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(nil, slog.New(slog.DiscardHandler))
}

func dialTestClient(t *testing.T, m *Manager) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(m.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.clients) == 1
	}, time.Second, 10*time.Millisecond)
	return conn
}

func TestBroadcastConcurrentWriters(t *testing.T) {
	m := newTestManager()
	conn := dialTestClient(t, m)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.StageEvent("run-1", "classify", "done", strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	// Every message arrives intact; interleaved writes would have either
	// panicked or corrupted frames.
	for i := 0; i < n; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var event map[string]any
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, "stage", event["type"])
		assert.Equal(t, "run-1", event["run_id"])
	}
}

func TestBroadcastRunEventShape(t *testing.T) {
	m := newTestManager()
	conn := dialTestClient(t, m)

	m.Broadcast(map[string]any{"type": "run", "run_id": "run-2"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "run", event["type"])
	assert.Equal(t, "run-2", event["run_id"])
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	m := newTestManager()
	conn := dialTestClient(t, m)

	conn.Close()
	assert.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.clients) == 0
	}, time.Second, 10*time.Millisecond)
}
