package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
)

type Handler struct {
	recorder *Recorder
}

func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// Query godoc
// @Summary Query the audit log
// @Description Newest first. from/to accept YYYY-MM-DD or RFC3339; a bare "to" date includes the whole day. Admin only.
// @Tags Audit
// @Security BearerAuth
// @Param action query string false "CREATE, UPDATE, DELETE, LOGIN or LOGOUT"
// @Param entity_type query string false "Entity type"
// @Param entity_id query string false "Entity id"
// @Param actor_id query int false "Actor user id"
// @Success 200 {object} map[string]interface{}
// @Router /audit-logs [get]
func (h *Handler) Query(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	f := Filter{
		Action:     Action(strings.ToUpper(strings.TrimSpace(c.Query("action")))),
		EntityType: strings.TrimSpace(c.Query("entity_type")),
		EntityID:   strings.TrimSpace(c.Query("entity_id")),
	}
	if raw := strings.TrimSpace(c.Query("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid actor_id")
			return
		}
		f.ActorID = &id
	}

	var err error
	if f.From, err = parseInstant(c.Query("from"), false); err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid from")
		return
	}
	if f.To, err = parseInstant(c.Query("to"), true); err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid to")
		return
	}
	if f.Limit, err = response.QueryInt(c, "limit", 0); err != nil {
		response.BadQuery(c, err)
		return
	}
	if f.Offset, err = response.QueryInt(c, "offset", 0); err != nil {
		response.BadQuery(c, err)
		return
	}

	page, err := h.recorder.Query(c.Request.Context(), actor, f)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, page)
}

// Stats godoc
// @Summary Audit log counts per action, entity type and actor
// @Tags Audit
// @Security BearerAuth
// @Param from query string false "YYYY-MM-DD or RFC3339"
// @Param to query string false "YYYY-MM-DD or RFC3339"
// @Success 200 {object} map[string]interface{}
// @Router /audit-logs/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	from, err := parseInstant(c.Query("from"), false)
	if err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid from")
		return
	}
	to, err := parseInstant(c.Query("to"), true)
	if err != nil {
		response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid to")
		return
	}

	stats, err := h.recorder.Stats(c.Request.Context(), actor, from, to)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

func parseInstant(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.GET("/audit-logs", middleware.AdminOnly(), h.Query)
	protected.GET("/audit-logs/stats", middleware.AdminOnly(), h.Stats)
}
