package router

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
)

func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, adminMiddleware *middleware.AdminMiddleware) {
	chatHandler := handler.GetChatHandler()

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	// Rooms
	chatGroup.POST("", chatHandler.ResolveRoom)
	chatGroup.GET("", chatHandler.ListRooms)
	chatGroup.GET("/:id", chatHandler.GetRoom)
	chatGroup.DELETE("/:id", chatHandler.DeleteRoom)
	chatGroup.PUT("/:id/read", chatHandler.MarkRead)

	// Presence
	chatGroup.POST("/:id/typing", chatHandler.SetTyping)
	chatGroup.GET("/:id/typing", chatHandler.GetTyping)

	// Messages
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/:id/images", chatHandler.UploadImage)
	chatGroup.DELETE("/:id/messages/:messageId", chatHandler.DeleteMessage)

	// Offers
	chatGroup.POST("/:id/messages/:messageId/accept-offer", chatHandler.AcceptOffer)
	chatGroup.POST("/:id/messages/:messageId/reject-offer", chatHandler.RejectOffer)
	chatGroup.POST("/:id/messages/:messageId/cancel-offer", chatHandler.CancelOffer)
	chatGroup.PATCH("/:id/messages/:messageId/metadata", chatHandler.PatchMetadata)

	adminChatGroup := e.Group("/v1/admin/chats")
	adminChatGroup.Use(authMiddleware.Authenticate)
	adminChatGroup.Use(adminMiddleware.AdminOnly)
	adminChatGroup.POST("/:id/close", chatHandler.CloseRoom)
}
