package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

func SetupNotificationRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	notificationHandler := handler.GetNotificationHandler()

	notificationGroup := e.Group("/v1/notifications")
	notificationGroup.Use(authMiddleware.Authenticate)

	notificationGroup.GET("", notificationHandler.List)
	notificationGroup.GET("/unread-count", notificationHandler.UnreadCount)
	notificationGroup.PUT("/read-all", notificationHandler.MarkAllRead)
	notificationGroup.PUT("/:id/read", notificationHandler.MarkRead)
	notificationGroup.DELETE("/:id", notificationHandler.Delete)
}
