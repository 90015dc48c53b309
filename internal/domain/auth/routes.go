package auth

import (
	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
)

func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
	}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	protected.POST("/auth/logout", h.Logout)

	userGroup := protected.Group("/users")
	{
		userGroup.GET("/me", h.GetMe)
		userGroup.GET("", middleware.AdminOnly(), h.ListUsers)
		userGroup.POST("", middleware.AdminOnly(), h.CreateUser)
		userGroup.PUT("/:id/depots", middleware.AdminOnly(), h.SetDepots)
	}
}
