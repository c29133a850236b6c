package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pulsegram/pulsegram/internal/domain"
	apperrors "github.com/pulsegram/pulsegram/internal/platform/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Snapshots carry no secrets; any origin may watch.
	},
}

// handleWebsocket upgrades the connection and attaches it to the content key
// named by the type and id query parameters. Registering the first client
// opens the view; the client then receives every published snapshot until it
// disconnects.
func (s *Server) handleWebsocket(c echo.Context) error {
	contentType := domain.ContentType(c.QueryParam("type"))
	if !contentType.Valid() {
		return apperrors.ValidationError("unknown content type").
			WithContext("content_type", c.QueryParam("type"))
	}
	id := c.QueryParam("id")
	if id == "" {
		return apperrors.ValidationError("content id must not be empty")
	}
	key := domain.ContentKey{Type: contentType, ID: id}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written its own error response.
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	if err := s.clients.Register(key, conn); err != nil {
		slog.Warn("Websocket registration rejected", "content_key", key.String(), "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "view unavailable")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		return nil
	}

	go s.readLoop(key, conn)
	return nil
}

// readLoop drains inbound frames so ping/pong and close handshakes work.
// Clients have nothing to say on this channel; the first read error tears
// the registration down.
func (s *Server) readLoop(key domain.ContentKey, conn *websocket.Conn) {
	defer s.clients.Unregister(key, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
