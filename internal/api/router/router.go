package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/notifyd/notifyd/internal/api/handlers/attachment"
	"github.com/notifyd/notifyd/internal/api/handlers/notification"
	"github.com/notifyd/notifyd/internal/middlewares"
)

// New builds the notification API router.
func New(handler *notification.Handler, attachments *attachment.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api/notify")
	{
		api.POST("/", handler.Create)
		api.POST("/one-off", handler.CreateOneOff)
		api.PUT("/one-off/:id", handler.UpdateOneOff)
		api.GET("/", handler.GetAll)
		api.GET("/pending", handler.GetPending)
		api.GET("/:id", handler.Get)
		api.GET("/:id/status", handler.GetStatus)
		api.POST("/:id/send", handler.Send)
		api.POST("/:id/resend", handler.Resend)
		api.POST("/:id/read", handler.MarkRead)
		api.DELETE("/:id", handler.Cancel)

		api.POST("/attachments", attachments.Upload)
	}

	return e
}
