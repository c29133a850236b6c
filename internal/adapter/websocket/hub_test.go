package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/interactions"
	"github.com/pulsegram/pulsegram/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type stubStore struct{}

func (stubStore) InsertRow(context.Context, domain.Table, domain.InteractionRow) error {
	return nil
}

func (stubStore) DeleteRow(context.Context, domain.Table, domain.InteractionRow) error {
	return nil
}

func (stubStore) FetchCounters(context.Context, string, domain.ContentKey) (domain.Counters, error) {
	return domain.Counters{Likes: 10}, nil
}

type stubHandle struct{}

func (stubHandle) Unsubscribe() error { return nil }

type stubTransport struct {
	mu           sync.Mutex
	subscribeErr error
}

func (s *stubTransport) Subscribe(context.Context, domain.Topic, func(domain.Change)) (domain.TransportHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	return stubHandle{}, nil
}

func (s *stubTransport) Broadcast(context.Context, string, []byte) error { return nil }

func (s *stubTransport) OnBroadcast(context.Context, string, func([]byte)) (domain.TransportHandle, error) {
	return stubHandle{}, nil
}

// --- Helpers ---

var hubKey = domain.ContentKey{Type: domain.ContentPost, ID: "post-1"}

// testHub sets up a Hub over a real engine and a test HTTP server that
// upgrades connections. Returns the hub, the engine, and a dial function.
func testHub(t *testing.T, transport *stubTransport) (*Hub, *interactions.Engine, func(key domain.ContentKey) *ws.Conn) {
	t.Helper()

	engine := interactions.NewEngine("viewer-1", stubStore{}, realtime.New(transport), clockwork.NewFakeClock())
	engine.Start()
	t.Cleanup(engine.Stop)

	hub := NewHub(engine)
	t.Cleanup(hub.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		key := domain.ContentKey{
			Type: domain.ContentType(r.URL.Query().Get("type")),
			ID:   r.URL.Query().Get("id"),
		}
		if err := hub.Register(key, conn); err != nil {
			return
		}

		// Read loop to detect disconnects
		go func() {
			defer hub.Unregister(key, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func(key domain.ContentKey) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?type=" + string(key.Type) + "&id=" + key.ID
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return hub, engine, dial
}

func waitForClientCount(hub *Hub, key domain.ContentKey, expected int) bool {
	for range 500 {
		if hub.GetClientCount(key) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// --- Tests ---

func TestHub_RegisterAndBroadcastSnapshot(t *testing.T) {
	hub, _, dial := testHub(t, &stubTransport{})

	conn := dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 1))

	hub.BroadcastSnapshot(domain.InteractionSnapshot{
		Key:             hubKey,
		LikesCount:      11,
		IsLikedByViewer: true,
		Phase:           domain.PhaseSynced,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap domain.InteractionSnapshot
	require.NoError(t, json.Unmarshal(msg, &snap))
	assert.Equal(t, hubKey, snap.Key)
	assert.Equal(t, int64(11), snap.LikesCount)
	assert.True(t, snap.IsLikedByViewer)
}

func TestHub_FirstClientOpensView(t *testing.T) {
	hub, engine, dial := testHub(t, &stubTransport{})

	_, err := engine.Snapshot(hubKey)
	require.ErrorIs(t, err, domain.ErrViewNotOpen)

	dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 1))

	_, err = engine.Snapshot(hubKey)
	assert.NoError(t, err)
}

func TestHub_MultipleClientsShareContent(t *testing.T) {
	hub, _, dial := testHub(t, &stubTransport{})

	conn1 := dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 1))
	conn2 := dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 2))

	hub.BroadcastSnapshot(domain.InteractionSnapshot{Key: hubKey, LikesCount: 7})

	for _, conn := range []*ws.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(msg), `"likes_count":7`)
	}
}

func TestHub_LastDisconnectClosesView(t *testing.T) {
	hub, engine, dial := testHub(t, &stubTransport{})

	conn := dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 1))

	conn.Close()
	require.True(t, waitForClientCount(hub, hubKey, 0))

	require.Eventually(t, func() bool {
		_, err := engine.Snapshot(hubKey)
		return errors.Is(err, domain.ErrViewNotOpen)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_OpenViewFailureRejectsClients(t *testing.T) {
	transport := &stubTransport{subscribeErr: errors.New("transport down")}
	hub, _, _ := testHub(t, transport)

	// Register directly: the dial helper's handler drops failed conns.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		assert.Error(t, hub.Register(hubKey, conn))
	}))
	defer server.Close()

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, waitForClientCount(hub, hubKey, 0))
}

func TestHub_BroadcastToUnknownContentIsNoop(t *testing.T) {
	hub, _, _ := testHub(t, &stubTransport{})

	// Must not panic or block.
	hub.BroadcastSnapshot(domain.InteractionSnapshot{Key: domain.ContentKey{Type: domain.ContentReel, ID: "nope"}})
	assert.Equal(t, 0, hub.GetClientCount(domain.ContentKey{Type: domain.ContentReel, ID: "nope"}))
}

func TestHub_StopClosesViewsBeforeReturning(t *testing.T) {
	hub, engine, dial := testHub(t, &stubTransport{})

	dial(hubKey)
	require.True(t, waitForClientCount(hub, hubKey, 1))

	hub.Stop()

	// The view must already be gone on the engine side, not merely
	// scheduled for closing.
	_, err := engine.Snapshot(hubKey)
	assert.ErrorIs(t, err, domain.ErrViewNotOpen)
}
