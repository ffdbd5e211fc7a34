package router

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	"marketchat/internal/adapter/api/middleware"
	adapterrepo "marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/firebase"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
)

type fakeVerifier map[string]*firebase.Identity

func (f fakeVerifier) VerifyToken(ctx context.Context, token string) (*firebase.Identity, error) {
	if identity, ok := f[token]; ok {
		return identity, nil
	}
	return nil, stderrors.New("token rejected")
}

type memoryObjectStore struct{}

func (memoryObjectStore) Upload(ctx context.Context, file io.Reader, contentType, path string) (string, error) {
	return "https://storage.example.com/public/" + path, nil
}

func (memoryObjectStore) Delete(ctx context.Context, fileURL string) error { return nil }

func (memoryObjectStore) Close() error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type listData[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

type apiFixture struct {
	e    *echo.Echo
	chat *usecase.ChatUseCase
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	notifications := usecase.NewNotificationUseCase(adapterrepo.NewMemoryNotificationRepository())
	chat := usecase.NewChatUseCase(
		adapterrepo.NewMemoryRoomRepository(),
		adapterrepo.NewMemoryMessageRepository(),
		adapterrepo.NewMemoryPresenceRepository(),
		notifications,
		memoryObjectStore{},
		nil,
		entity.DefaultTypingWindow,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	wsManager := websocket.NewManager(chat, notifications)
	wsManager.Start(ctx)

	handler.Setup(chat, notifications, wsManager, 0, map[string]handler.HealthCheck{
		"store": func(ctx context.Context) error { return nil },
	})

	e := echo.New()
	e.Validator = api.NewValidator()

	auth := middleware.NewAuthMiddleware(fakeVerifier{
		"B": {UID: "B", Name: "Budi"},
		"S": {UID: "S", Name: "Sari"},
		"X": {UID: "X", Name: "Stranger"},
		"M": {UID: "M", Name: "Mod", Admin: true},
	})
	Setup(e, auth, middleware.NewAdminMiddleware())

	return &apiFixture{e: e, chat: chat}
}

// do sends body as JSON with the caller's token and decodes the envelope.
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return f.serve(t, req)
}

func (f *apiFixture) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()

	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (f *apiFixture) resolve(t *testing.T) entity.ChatRoom {
	t.Helper()

	status, env := f.do(t, http.MethodPost, "/v1/chats", "B", map[string]interface{}{
		"listing_id":    "L1",
		"buyer_id":      "B",
		"seller_id":     "S",
		"listing_title": "Sepeda lipat",
		"listing_price": 1000,
	})
	require.Equal(t, http.StatusOK, status)
	return decode[entity.ChatRoom](t, env)
}

func TestChatRoutes_RequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRoutes_ConversationFlow(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)
	assert.Equal(t, "L1_B_S", room.ID)

	status, env := f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/messages", "B", map[string]interface{}{
		"text": "Masih ada?",
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	sent := decode[entity.ChatMessage](t, env)
	assert.Equal(t, entity.MessageTypeText, sent.Type)
	assert.Equal(t, "Budi", sent.SenderName)

	status, env = f.do(t, http.MethodGet, "/v1/chats", "S", nil)
	require.Equal(t, http.StatusOK, status)
	rooms := decode[listData[entity.ChatRoom]](t, env)
	require.Len(t, rooms.Items, 1)
	assert.Equal(t, 1, rooms.Items[0].UnreadCountSeller)
	assert.Equal(t, "Masih ada?", rooms.Items[0].LastMessage)

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID+"/messages?limit=10", "S", nil)
	require.Equal(t, http.StatusOK, status)
	messages := decode[listData[entity.ChatMessage]](t, env)
	require.Equal(t, 1, messages.Count)

	status, env = f.do(t, http.MethodPut, "/v1/chats/"+room.ID+"/read", "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"marked":1}`, string(env.Data))

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID, "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decode[entity.ChatRoom](t, env).UnreadCountSeller)

	f.chat.WaitForNotifications()
	status, env = f.do(t, http.MethodGet, "/v1/notifications/unread-count", "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"unread":1}`, string(env.Data))

	status, env = f.do(t, http.MethodGet, "/v1/notifications", "S", nil)
	require.Equal(t, http.StatusOK, status)
	notifications := decode[listData[entity.Notification]](t, env)
	require.Len(t, notifications.Items, 1)
	assert.Equal(t, "/chats/"+room.ID, notifications.Items[0].Link)

	status, _ = f.do(t, http.MethodPut, "/v1/notifications/read-all", "S", nil)
	require.Equal(t, http.StatusOK, status)
	status, env = f.do(t, http.MethodGet, "/v1/notifications/unread-count", "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"unread":0}`, string(env.Data))

	status, _ = f.do(t, http.MethodDelete, "/v1/notifications/"+notifications.Items[0].ID, "B", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodDelete, "/v1/notifications/"+notifications.Items[0].ID, "S", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestChatRoutes_Errors(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)

	status, env := f.do(t, http.MethodPost, "/v1/chats", "B", map[string]interface{}{"listing_id": "L1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID, "X", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = f.do(t, http.MethodGet, "/v1/chats/missing", "B", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/messages", "B", map[string]interface{}{
		"text": "x",
		"type": "sticker",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TYPE", env.Error.Code)
}

func TestChatRoutes_OfferLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)

	status, env := f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/messages", "B", map[string]interface{}{
		"text":     "Boleh 900?",
		"type":     "offer",
		"metadata": map[string]interface{}{"price": 900},
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	offer := decode[entity.ChatMessage](t, env)
	assert.Equal(t, entity.OfferPending, offer.Metadata.OfferStatus)

	base := "/v1/chats/" + room.ID + "/messages/" + offer.ID

	status, env = f.do(t, http.MethodPatch, base+"/metadata", "B", map[string]interface{}{"price": 950})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, 950.0, *decode[entity.ChatMessage](t, env).Metadata.Price)

	status, _ = f.do(t, http.MethodPost, base+"/accept-offer", "B", nil)
	assert.Equal(t, http.StatusForbidden, status, "sender cannot accept own offer")

	status, env = f.do(t, http.MethodPost, base+"/accept-offer", "S", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	accepted := decode[entity.ChatMessage](t, env)
	assert.Equal(t, entity.OfferAccepted, accepted.Metadata.OfferStatus)
	assert.Equal(t, 950.0, *accepted.Metadata.Price)

	status, env = f.do(t, http.MethodPost, base+"/cancel-offer", "B", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID+"/messages", "B", nil)
	require.Equal(t, http.StatusOK, status)
	messages := decode[listData[entity.ChatMessage]](t, env)
	require.Len(t, messages.Items, 2)
	assert.Equal(t, entity.MessageTypeSystem, messages.Items[1].Type)
}

func TestChatRoutes_DeleteAndTyping(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)

	status, env := f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/messages", "B", map[string]interface{}{"text": "oops"})
	require.Equal(t, http.StatusCreated, status)
	message := decode[entity.ChatMessage](t, env)

	status, _ = f.do(t, http.MethodDelete, "/v1/chats/"+room.ID+"/messages/"+message.ID, "S", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = f.do(t, http.MethodDelete, "/v1/chats/"+room.ID+"/messages/"+message.ID, "B", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[entity.ChatMessage](t, env).IsDeleted)

	status, _ = f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/typing", "B", map[string]bool{"typing": true})
	require.Equal(t, http.StatusOK, status)

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID+"/typing", "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"typing":true}`, string(env.Data))

	status, env = f.do(t, http.MethodGet, "/v1/chats/"+room.ID+"/typing", "B", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"typing":false}`, string(env.Data), "own signal is ignored")

	status, _ = f.do(t, http.MethodDelete, "/v1/chats/"+room.ID, "S", nil)
	require.Equal(t, http.StatusOK, status)

	status, env = f.do(t, http.MethodGet, "/v1/chats", "S", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decode[listData[entity.ChatRoom]](t, env).Count)

	status, env = f.do(t, http.MethodGet, "/v1/chats", "B", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decode[listData[entity.ChatRoom]](t, env).Count)
}

func TestChatRoutes_UploadImage(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("caption", "Foto barang"))
	part, err := writer.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="image"; filename="bike.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/"+room.ID+"/images", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer B")

	status, env := f.serve(t, req)
	require.Equal(t, http.StatusCreated, status, env.Error)
	message := decode[entity.ChatMessage](t, env)
	assert.Equal(t, entity.MessageTypeImage, message.Type)
	assert.Equal(t, "Foto barang", message.Text)
	assert.True(t, strings.HasPrefix(message.ImageURL, "https://storage.example.com/public/chats/"+room.ID+"/"))
	assert.True(t, strings.HasSuffix(message.ImageURL, ".jpg"))
}

func TestAdminRoutes_CloseRoom(t *testing.T) {
	f := newAPIFixture(t)
	room := f.resolve(t)

	status, _ := f.do(t, http.MethodPost, "/v1/admin/chats/"+room.ID+"/close", "B", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, http.MethodPost, "/v1/admin/chats/"+room.ID+"/close", "M", nil)
	require.Equal(t, http.StatusOK, status)

	status, env := f.do(t, http.MethodPost, "/v1/chats/"+room.ID+"/messages", "B", map[string]interface{}{"text": "halo?"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestHealthRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)

	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketchat_")
}
