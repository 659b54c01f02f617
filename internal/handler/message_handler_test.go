package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/vanneszias/Safe-Chat/internal/auth"
	"github.com/vanneszias/Safe-Chat/internal/auth/mocks"
	"github.com/vanneszias/Safe-Chat/internal/delivery"
	"github.com/vanneszias/Safe-Chat/internal/event"
	"github.com/vanneszias/Safe-Chat/internal/hub"
	"github.com/vanneszias/Safe-Chat/internal/model"
	"github.com/vanneszias/Safe-Chat/internal/repo"
	"github.com/vanneszias/Safe-Chat/internal/service"
)

var (
	alice = uuid.MustParse("6f1c1e4e-0000-4000-8000-000000000001")
	bob   = uuid.MustParse("6f1c1e4e-0000-4000-8000-000000000002")
)

type apiFixture struct {
	router *gin.Engine
	store  *repo.MemoryMessageRepository
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	ctrl := gomock.NewController(t)
	authenticator := mocks.NewMockAuthenticator(ctrl)
	authenticator.EXPECT().Authenticate("alice-token").Return(alice, nil).AnyTimes()
	authenticator.EXPECT().Authenticate("bob-token").Return(bob, nil).AnyTimes()
	authenticator.EXPECT().Authenticate(gomock.Any()).Return(uuid.Nil, auth.ErrInvalidToken).AnyTimes()

	store := repo.NewMemoryMessageRepository()
	scheduler := delivery.NewDeletionScheduler(store, 1, time.Second, logger)
	t.Cleanup(scheduler.Stop)
	engine := delivery.NewEngine(store, hub.NewRegistry(logger), scheduler, delivery.Config{}, logger)
	h := NewMessageHandler(service.NewMessageService(store, engine))

	router := gin.New()
	router.GET("/health", Health)
	group := router.Group("/api/messages", RequireUser(authenticator))
	group.GET("/:userId", h.GetConversation)
	group.POST("", h.SendMessage)
	group.PUT("/:messageId/status", h.UpdateStatus)

	return &apiFixture{router: router, store: store}
}

func (f *apiFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func sendBody(t *testing.T, id string, receiver uuid.UUID) string {
	t.Helper()
	raw, err := json.Marshal(event.SendMessageData{
		MessageID:        id,
		ReceiverID:       receiver.String(),
		Type:             "text",
		EncryptedContent: base64.StdEncoding.EncodeToString([]byte("secret")),
		IV:               base64.StdEncoding.EncodeToString([]byte("iv")),
	})
	require.NoError(t, err)
	return string(raw)
}

func Test_Health(t *testing.T) {
	f := newAPI(t)
	w := f.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func Test_Requires_Bearer_Token(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	w := f.do(http.MethodGet, "/api/messages/"+bob.String(), "", "")
	req.Equal(http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/api/messages/"+bob.String(), "forged", "")
	req.Equal(http.StatusUnauthorized, w.Code)
}

func Test_Send_Then_Fetch_Conversation(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)
	id := uuid.NewString()

	w := f.do(http.MethodPost, "/api/messages", "alice-token", sendBody(t, id, bob))
	req.Equal(http.StatusCreated, w.Code)

	var created struct {
		Message event.NewMessageData `json:"message"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &created))
	req.Equal(id, created.Message.ID)
	req.Equal(alice.String(), created.Message.SenderID)
	req.Equal("SENT", created.Message.Status)

	w = f.do(http.MethodGet, "/api/messages/"+alice.String(), "bob-token", "")
	req.Equal(http.StatusOK, w.Code)

	var list struct {
		Messages []event.NewMessageData `json:"messages"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &list))
	req.Len(list.Messages, 1)
	req.Equal(base64.StdEncoding.EncodeToString([]byte("secret")), list.Messages[0].EncryptedContent)
}

func Test_Send_Invalid_Body(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	w := f.do(http.MethodPost, "/api/messages", "alice-token", "{")
	req.Equal(http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/messages", "alice-token", `{"receiver_id":"`+bob.String()+`"}`)
	req.Equal(http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/messages", "alice-token", sendBody(t, "not-a-uuid", bob))
	req.Equal(http.StatusBadRequest, w.Code)
}

func Test_Update_Status_Error_Mapping(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)
	id := uuid.NewString()
	req.Equal(http.StatusCreated, f.do(http.MethodPost, "/api/messages", "alice-token", sendBody(t, id, bob)).Code)

	path := "/api/messages/" + id + "/status"

	w := f.do(http.MethodPut, path, "alice-token", `{"status":"READ"}`)
	req.Equal(http.StatusForbidden, w.Code)

	w = f.do(http.MethodPut, path, "bob-token", `{"status":"LOST"}`)
	req.Equal(http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/messages/"+uuid.NewString()+"/status", "bob-token", `{"status":"DELIVERED"}`)
	req.Equal(http.StatusNotFound, w.Code)

	w = f.do(http.MethodPut, path, "bob-token", `{"status":"delivered"}`)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"message_id":"`+id+`","status":"DELIVERED"}`, w.Body.String())

	stored, ok := f.store.Get(uuid.MustParse(id))
	req.True(ok)
	req.Equal(model.StatusDelivered, stored.Status)
}
