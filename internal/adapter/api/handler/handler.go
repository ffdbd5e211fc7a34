package handler

import (
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

var (
	chatHandler         *ChatHandler
	notificationHandler *NotificationHandler
	webSocketHandler    *WebSocketHandler
	healthHandler       *HealthHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	notificationUseCase *usecase.NotificationUseCase,
	wsManager *websocket.Manager,
	messagePageCap int,
	checks map[string]HealthCheck,
) {
	chatHandler = NewChatHandler(chatUseCase, messagePageCap)
	notificationHandler = NewNotificationHandler(notificationUseCase)
	webSocketHandler = NewWebSocketHandler(wsManager)
	healthHandler = NewHealthHandler(checks)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetNotificationHandler() *NotificationHandler {
	return notificationHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
