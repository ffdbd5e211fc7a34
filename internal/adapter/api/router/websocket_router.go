package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

func SetupWebSocketRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	wsHandler := handler.GetWebSocketHandler()

	// Browsers cannot set headers on the handshake, so ?token= is accepted too.
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket)
}
