package router

import (
	"marketchat/internal/adapter/api/middleware"

	"github.com/labstack/echo/v4"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, adminMiddleware *middleware.AdminMiddleware) {
	SetupChatRouter(e, authMiddleware, adminMiddleware)
	SetupNotificationRouter(e, authMiddleware)
	SetupWebSocketRouter(e, authMiddleware)
	SetupHealthRouter(e)
}
