package handler

import (
	"context"
	"encoding/json"

	"github.com/labstack/echo/v4"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
	"marketchat/pkg/utils"
)

const maxImageSize = 10 << 20

type ChatHandler struct {
	chatUseCase    *usecase.ChatUseCase
	messagePageCap int
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, messagePageCap int) *ChatHandler {
	if messagePageCap <= 0 {
		messagePageCap = repository.MaxMessagePage
	}
	return &ChatHandler{
		chatUseCase:    chatUseCase,
		messagePageCap: messagePageCap,
	}
}

type resolveRoomRequest struct {
	ListingID    string  `json:"listing_id" validate:"required"`
	BuyerID      string  `json:"buyer_id" validate:"required"`
	SellerID     string  `json:"seller_id" validate:"required"`
	ListingTitle string  `json:"listing_title"`
	ListingImage string  `json:"listing_image" validate:"omitempty,url"`
	ListingPrice float64 `json:"listing_price" validate:"gte=0"`
}

type sendMessageRequest struct {
	Text     string                  `json:"text"`
	Type     string                  `json:"type"`
	ImageURL string                  `json:"image_url" validate:"omitempty,url"`
	Metadata *entity.MessageMetadata `json:"metadata"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// ResolveRoom opens the room for a listing, creating it on first contact.
func (h *ChatHandler) ResolveRoom(c echo.Context) error {
	var req resolveRoomRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	room, err := h.chatUseCase.ResolveRoom(c.Request().Context(), userID, usecase.ResolveRoomInput{
		ListingID:    req.ListingID,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		ListingTitle: req.ListingTitle,
		ListingImage: req.ListingImage,
		ListingPrice: req.ListingPrice,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

func (h *ChatHandler) ListRooms(c echo.Context) error {
	userID := c.Get("uid").(string)

	rooms, err := h.chatUseCase.ListRooms(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, rooms, len(rooms))
}

func (h *ChatHandler) GetRoom(c echo.Context) error {
	userID := c.Get("uid").(string)

	room, err := h.chatUseCase.GetRoom(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, room)
}

// DeleteRoom hides the room for the caller only.
func (h *ChatHandler) DeleteRoom(c echo.Context) error {
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.DeleteRoom(c.Request().Context(), c.Param("id"), userID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "Chat deleted",
	})
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	userID := c.Get("uid").(string)

	count, err := h.chatUseCase.MarkRead(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{
		"marked": count,
	})
}

func (h *ChatHandler) SetTyping(c echo.Context) error {
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	userID := c.Get("uid").(string)

	if err := h.chatUseCase.SetTyping(c.Request().Context(), c.Param("id"), userID, req.Typing); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]bool{
		"typing": req.Typing,
	})
}

// GetTyping reports whether the other participant is typing right now.
func (h *ChatHandler) GetTyping(c echo.Context) error {
	userID := c.Get("uid").(string)

	typing, err := h.chatUseCase.IsTyping(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]bool{
		"typing": typing,
	})
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if req.Type == "" {
		req.Type = string(entity.MessageTypeText)
	}

	userID := c.Get("uid").(string)
	userName, _ := c.Get("name").(string)

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), c.Param("id"), userID, usecase.SendMessageInput{
		SenderName: userName,
		Text:       req.Text,
		Type:       entity.MessageType(req.Type),
		ImageURL:   req.ImageURL,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetMessages returns the newest page, oldest first.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	userID := c.Get("uid").(string)
	limit := utils.GetLimit(c, h.messagePageCap, h.messagePageCap)

	messages, err := h.chatUseCase.GetMessages(c.Request().Context(), c.Param("id"), userID, limit)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, messages, len(messages))
}

// UploadImage accepts a multipart "image" file with an optional "caption".
func (h *ChatHandler) UploadImage(c echo.Context) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return response.Error(c, errors.BadRequest("Image file is required", err))
	}

	if fileHeader.Size > maxImageSize {
		return response.Error(c, errors.BadRequest("Image must be 10MB or smaller", nil))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.Error(c, errors.BadRequest("Failed to read image", err))
	}
	defer file.Close()

	userID := c.Get("uid").(string)
	userName, _ := c.Get("name").(string)

	message, err := h.chatUseCase.UploadImage(c.Request().Context(), c.Param("id"), userID, usecase.UploadImageInput{
		SenderName:  userName,
		Caption:     c.FormValue("caption"),
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		File:        file,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	userID := c.Get("uid").(string)

	message, err := h.chatUseCase.DeleteMessage(c.Request().Context(), c.Param("id"), c.Param("messageId"), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, message)
}

func (h *ChatHandler) AcceptOffer(c echo.Context) error {
	return h.offerAction(c, h.chatUseCase.AcceptOffer)
}

func (h *ChatHandler) RejectOffer(c echo.Context) error {
	return h.offerAction(c, h.chatUseCase.RejectOffer)
}

func (h *ChatHandler) CancelOffer(c echo.Context) error {
	return h.offerAction(c, h.chatUseCase.CancelOffer)
}

type offerActionFunc func(ctx context.Context, roomID, messageID, userID, userName string) (*entity.ChatMessage, error)

func (h *ChatHandler) offerAction(c echo.Context, action offerActionFunc) error {
	userID := c.Get("uid").(string)
	userName, _ := c.Get("name").(string)

	message, err := action(c.Request().Context(), c.Param("id"), c.Param("messageId"), userID, userName)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, message)
}

// PatchMetadata edits price or location of a pending offer, or moves its
// status. Body is a JSON object of metadata keys. It is decoded directly
// since echo's binder copies path params into map targets.
func (h *ChatHandler) PatchMetadata(c echo.Context) error {
	var patch entity.MetadataPatch
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}

	userID := c.Get("uid").(string)
	userName, _ := c.Get("name").(string)

	message, err := h.chatUseCase.PatchMessageMetadata(c.Request().Context(), c.Param("id"), c.Param("messageId"), userID, userName, patch)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, message)
}

// CloseRoom is the moderation endpoint behind AdminOnly.
func (h *ChatHandler) CloseRoom(c echo.Context) error {
	if err := h.chatUseCase.CloseRoom(c.Request().Context(), c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{
		"message": "Chat closed",
	})
}
