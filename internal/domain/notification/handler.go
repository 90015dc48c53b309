package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// List godoc
// @Summary List my notifications
// @Description Newest first, with the unread count. unread=true hides read ones.
// @Tags Notifications
// @Security BearerAuth
// @Param unread query bool false "Only unread"
// @Param limit query int false "Page size, default 20, max 100"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{}
// @Router /notifications [get]
func (h *Handler) List(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	limit, err := response.QueryInt(c, "limit", 0)
	if err != nil {
		response.BadQuery(c, err)
		return
	}
	offset, err := response.QueryInt(c, "offset", 0)
	if err != nil {
		response.BadQuery(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), actor, unreadOnly, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, page)
}

// @Router /notifications/unread-count [get]
func (h *Handler) UnreadCount(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	n, err := h.service.UnreadCount(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unread_count": n})
}

// @Router /notifications/{id}/read [patch]
func (h *Handler) MarkRead(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), actor, id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "read"})
}

// @Router /notifications/read-all [post]
func (h *Handler) MarkAllRead(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	n, err := h.service.MarkAllRead(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "all_read", "updated": n})
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	notifications := protected.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.PATCH("/:id/read", h.MarkRead)
		notifications.POST("/read-all", h.MarkAllRead)
	}
}
