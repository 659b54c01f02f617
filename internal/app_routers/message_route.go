package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/vanneszias/Safe-Chat/internal/configuration"
	"github.com/vanneszias/Safe-Chat/internal/handler"
)

func MessageRouters(router *gin.Engine, container *configuration.Container) {
	messageRoute := router.Group("/api/messages", handler.RequireUser(container.Authenticator))
	{
		messageRoute.GET("/:userId", container.MessageHandler.GetConversation)
		messageRoute.POST("", container.MessageHandler.SendMessage)
		messageRoute.PUT("/:messageId/status", container.MessageHandler.UpdateStatus)
	}
}
