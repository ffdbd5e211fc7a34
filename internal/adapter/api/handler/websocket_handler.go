package handler

import (
	"github.com/labstack/echo/v4"

	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
	"marketchat/pkg/response"
)

type WebSocketHandler struct {
	wsManager *ws.Manager
}

func NewWebSocketHandler(wsManager *ws.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
	}
}

// HandleWebSocket upgrades an authenticated request. The route is guarded by
// AuthenticateWebSocket, which sets uid.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return response.Error(c, errors.Unauthorized("Authentication required", nil))
	}

	// The upgrader has already written an HTTP error on failure.
	if err := h.wsManager.Serve(c.Response(), c.Request(), userID); err != nil {
		logger.Warn("Websocket upgrade failed for %s: %v", userID, err)
	}
	return nil
}
