package request

import (
	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
)

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	requests := protected.Group("/requests")
	{
		requests.POST("", h.Create)
		requests.GET("", h.List)
		requests.GET("/stats", h.Stats)
		requests.POST("/import", middleware.AdminOnly(), h.Import)
		requests.GET("/:id", h.Get)
		requests.PATCH("/:id/status", h.UpdateStatus)
		requests.POST("/:id/photos", h.AppendPhotos)
		requests.PATCH("/:id/priority", h.SetPriority)
		requests.PATCH("/:id/detail", h.SetJobDetail)
	}
}
