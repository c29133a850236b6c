// Package websocket fans interaction snapshots out to attached UI
// clients, one connection per rendered content item.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/interactions"
)

const maxClientsPerContent = 50

// ViewOpener opens a content view. The hub opens one when the first
// client for a content item connects and closes it when the last one
// leaves, so push subscriptions exist exactly while someone is watching.
type ViewOpener interface {
	OpenView(ctx context.Context, key domain.ContentKey) (*interactions.View, error)
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	key   domain.ContentKey
	conn  *websocket.Conn
	errCh chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	key  domain.ContentKey
	conn *websocket.Conn
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	key  domain.ContentKey
	data []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdGetClientCount struct {
	key     domain.ContentKey
	replyCh chan int
}

func (cmdGetClientCount) hubCmd() {}

type cmdOpenViewResult struct {
	key  domain.ContentKey
	view *interactions.View
	err  error
}

func (cmdOpenViewResult) hubCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) hubCmd() {}

// --- Per-connection writer ---

type clientWriter struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

func newClientWriter(conn *websocket.Conn) *clientWriter {
	cw := &clientWriter{
		conn:   conn,
		sendCh: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	for {
		select {
		case msg, ok := <-cw.sendCh:
			if !ok {
				return
			}
			cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := cw.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	close(cw.done)
	cw.conn.Close()
}

// --- Hub ---

// Hub routes every snapshot the engine produces to the websocket clients
// watching that content item. All bookkeeping runs on a single command
// loop; per-connection writers decouple slow clients from the fan-out.
type Hub struct {
	cmdCh   chan hubCmd
	stopCh  chan struct{}
	opener  ViewOpener
	clients map[domain.ContentKey]map[*websocket.Conn]*clientWriter
	pending map[domain.ContentKey][]cmdRegister
	views   map[domain.ContentKey]*interactions.View
}

var _ domain.SnapshotBroadcaster = (*Hub)(nil)

func NewHub(opener ViewOpener) *Hub {
	hub := &Hub{
		cmdCh:   make(chan hubCmd, 256),
		stopCh:  make(chan struct{}),
		opener:  opener,
		clients: make(map[domain.ContentKey]map[*websocket.Conn]*clientWriter),
		pending: make(map[domain.ContentKey][]cmdRegister),
		views:   make(map[domain.ContentKey]*interactions.View),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.key, c.conn)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdGetClientCount:
			c.replyCh <- len(h.clients[c.key])
		case cmdOpenViewResult:
			h.handleOpenViewResult(c)
		case cmdStop:
			h.handleStop()
			close(h.stopCh)
			close(c.doneCh)
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	// Content item already fully attached — add the client directly.
	if clients, exists := h.clients[c.key]; exists {
		if len(clients) >= maxClientsPerContent {
			slog.Warn("Rejecting websocket client: max clients reached",
				"content", c.key, "max", maxClientsPerContent)
			c.conn.Close()
			c.errCh <- fmt.Errorf("max clients per content item (%d) reached", maxClientsPerContent)
			return
		}
		clients[c.conn] = newClientWriter(c.conn)
		c.errCh <- nil
		return
	}

	// A view open is already in flight — queue this client behind it.
	if _, exists := h.pending[c.key]; exists {
		h.pending[c.key] = append(h.pending[c.key], c)
		return
	}

	// First client for this content item: open the view off the loop.
	h.pending[c.key] = []cmdRegister{c}
	key := c.key
	go func() {
		view, err := h.opener.OpenView(context.Background(), key)
		h.cmdCh <- cmdOpenViewResult{key: key, view: view, err: err}
	}()
}

func (h *Hub) handleOpenViewResult(c cmdOpenViewResult) {
	pending, exists := h.pending[c.key]
	if !exists {
		if c.err == nil {
			go c.view.Close()
		}
		return
	}
	delete(h.pending, c.key)

	if c.err != nil {
		slog.Warn("Failed to open content view for websocket clients",
			"content", c.key, "error", c.err)
		for _, p := range pending {
			p.conn.Close()
			p.errCh <- c.err
		}
		return
	}

	h.views[c.key] = c.view
	clients := make(map[*websocket.Conn]*clientWriter)
	h.clients[c.key] = clients
	for _, p := range pending {
		clients[p.conn] = newClientWriter(p.conn)
		p.errCh <- nil
	}
}

func (h *Hub) handleUnregister(key domain.ContentKey, conn *websocket.Conn) {
	clients, exists := h.clients[key]
	if !exists {
		return
	}

	cw, exists := clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, conn)

	if len(clients) == 0 {
		delete(h.clients, key)
		if view, ok := h.views[key]; ok {
			delete(h.views, key)
			go view.Close()
		}
		slog.Debug("Last websocket client disconnected", "content", key)
	}
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	clients, exists := h.clients[c.key]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn, cw := range clients {
		select {
		case cw.sendCh <- c.data:
		default:
			// client is slow, mark for removal
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow websocket client", "content", c.key)
		h.handleUnregister(c.key, conn)
	}
}

func (h *Hub) handleStop() {
	for key, clients := range h.clients {
		for _, cw := range clients {
			cw.stop()
		}
		delete(h.clients, key)
	}
	// Views close synchronously so the engine still runs while their
	// subscriptions are released; Stop must not race engine teardown.
	for key, view := range h.views {
		delete(h.views, key)
		view.Close()
	}
	for key, pending := range h.pending {
		for _, p := range pending {
			p.conn.Close()
			p.errCh <- fmt.Errorf("hub stopped")
		}
		delete(h.pending, key)
	}
}

// --- Public API ---

// Register attaches a websocket connection to a content item. Blocks
// until the item's view is open.
func (h *Hub) Register(key domain.ContentKey, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- cmdRegister{key: key, conn: conn, errCh: errCh}
	select {
	case err := <-errCh:
		return err
	case <-h.stopCh:
		select {
		case err := <-errCh:
			return err
		default:
			conn.Close()
			return domain.ErrEngineStopped
		}
	}
}

// Unregister detaches a connection. The last client of a content item
// closes its view.
func (h *Hub) Unregister(key domain.ContentKey, conn *websocket.Conn) {
	h.cmdCh <- cmdUnregister{key: key, conn: conn}
}

// BroadcastSnapshot sends one snapshot to every client watching its
// content item.
func (h *Hub) BroadcastSnapshot(snapshot domain.InteractionSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal snapshot", "error", err)
		return
	}
	h.cmdCh <- cmdBroadcast{key: snapshot.Key, data: data}
}

// GetClientCount reports the number of clients attached to a content item.
// After Stop it reports zero.
func (h *Hub) GetClientCount(key domain.ContentKey) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdGetClientCount{key: key, replyCh: replyCh}
	select {
	case n := <-replyCh:
		return n
	case <-h.stopCh:
		select {
		case n := <-replyCh:
			return n
		default:
			return 0
		}
	}
}

// Stop shuts the hub down and returns once every client is disconnected
// and every view is closed. Further calls return immediately.
func (h *Hub) Stop() {
	select {
	case <-h.stopCh:
		return
	default:
	}
	doneCh := make(chan struct{})
	h.cmdCh <- cmdStop{doneCh: doneCh}
	select {
	case <-doneCh:
	case <-h.stopCh:
	}
}
