package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vanneszias/Safe-Chat/internal/auth"
	"github.com/vanneszias/Safe-Chat/internal/delivery"
	"github.com/vanneszias/Safe-Chat/internal/event"
	"github.com/vanneszias/Safe-Chat/internal/model"
	"github.com/vanneszias/Safe-Chat/internal/service"
)

const userIDKey = "user_id"

type MessageHandler interface {
	GetConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	UpdateStatus(c *gin.Context)
}

type messageHandler struct {
	service service.MessageService
}

func NewMessageHandler(service service.MessageService) MessageHandler {
	return &messageHandler{
		service: service,
	}
}

// RequireUser authenticates the bearer token and stores the caller's id on the context.
func RequireUser(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		userID, err := authenticator.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) uuid.UUID {
	v, _ := c.Get(userIDKey)
	id, _ := v.(uuid.UUID)
	return id
}

func (h *messageHandler) GetConversation(c *gin.Context) {
	otherID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	msgs, err := h.service.Conversation(c.Request.Context(), currentUser(c), otherID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
	})
}

func (h *messageHandler) SendMessage(c *gin.Context) {
	var cmd event.SendMessageData
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), currentUser(c), cmd)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

func (h *messageHandler) UpdateStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cmd := event.UpdateStatusData{MessageID: c.Param("messageId"), Status: body.Status}
	if err := h.service.UpdateStatus(c.Request.Context(), currentUser(c), cmd); err != nil {
		writeError(c, err)
		return
	}

	status, _ := model.ParseStatus(cmd.Status)
	c.JSON(http.StatusOK, gin.H{
		"message_id": cmd.MessageID,
		"status":     status,
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, delivery.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, delivery.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, delivery.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
