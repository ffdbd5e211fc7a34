package handler

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

type NotificationHandler struct {
	notificationUseCase *usecase.NotificationUseCase
}

func NewNotificationHandler(notificationUseCase *usecase.NotificationUseCase) *NotificationHandler {
	return &NotificationHandler{
		notificationUseCase: notificationUseCase,
	}
}

func (h *NotificationHandler) List(c echo.Context) error {
	userID := c.Get("uid").(string)
	limit := utils.GetLimit(c, 50, 100)

	notifications, err := h.notificationUseCase.List(c.Request().Context(), userID, limit)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, notifications, len(notifications))
}

func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	userID := c.Get("uid").(string)

	count, err := h.notificationUseCase.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{
		"unread": count,
	})
}

func (h *NotificationHandler) MarkRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.notificationUseCase.MarkRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "Notification marked as read",
	})
}

func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.notificationUseCase.MarkAllRead(c.Request().Context(), userID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "All notifications marked as read",
	})
}

func (h *NotificationHandler) Delete(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.notificationUseCase.Delete(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "Notification deleted",
	})
}
