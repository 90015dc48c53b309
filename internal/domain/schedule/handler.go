package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/domain/request"
	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
	"posmdesk/internal/pkg/validator"
)

type Handler struct {
	planner *Planner
	reports *ReportService
	engine  *Engine
}

func NewHandler(planner *Planner, reports *ReportService, engine *Engine) *Handler {
	return &Handler{planner: planner, reports: reports, engine: engine}
}

type planBody struct {
	RequestIDs  []int64 `json:"request_ids" validate:"required,min=1,max=500"`
	PlannedDate string  `json:"planned_date" validate:"required,datetime=2006-01-02"`
}

// reportBody uses Monday=0 weekdays, like every other weekday in the API.
type reportBody struct {
	Name             string   `json:"name" validate:"required,max=100"`
	Kind             Kind     `json:"kind" validate:"required"`
	Weekday          int      `json:"weekday" validate:"min=0,max=6"`
	Hour             int      `json:"hour" validate:"min=0,max=23"`
	Minute           int      `json:"minute" validate:"min=0,max=59"`
	Active           *bool    `json:"active"`
	DepotIDs         []int64  `json:"depot_ids"`
	RecipientUserIDs []int64  `json:"recipient_user_ids" validate:"required,min=1"`
	StatusFilter     []string `json:"status_filter"`
	JobTypeFilter    []string `json:"job_type_filter"`
	RangeDays        int      `json:"range_days" validate:"min=0,max=366"`
}

func (b reportBody) input() ReportInput {
	active := true
	if b.Active != nil {
		active = *b.Active
	}
	return ReportInput{
		Name:             b.Name,
		Kind:             b.Kind,
		Recurrence:       Recurrence{Weekday: b.Weekday, Hour: b.Hour, Minute: b.Minute},
		Active:           active,
		DepotIDs:         b.DepotIDs,
		RecipientUserIDs: b.RecipientUserIDs,
		StatusFilter:     b.StatusFilter,
		JobTypeFilter:    b.JobTypeFilter,
		RangeDays:        b.RangeDays,
	}
}

// Plan godoc
// @Summary Schedule a batch of requests
// @Description Moves each Pending request to Scheduled on the given date. Failures are itemized per request and do not undo the others.
// @Tags Schedule
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /work-plan [post]
func (h *Handler) Plan(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var body planBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("schedule.PlanBatch", body); err != nil {
		response.FromError(c, err)
		return
	}
	planned, _ := request.ParseDate(body.PlannedDate)

	res, err := h.planner.PlanBatch(c.Request.Context(), actor, body.RequestIDs, planned)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) ListReports(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	reports, err := h.reports.List(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": reports})
}

func (h *Handler) GetReport(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	r, err := h.reports.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *Handler) CreateReport(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var body reportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("schedule.CreateReport", body); err != nil {
		response.FromError(c, err)
		return
	}

	r, err := h.reports.Create(c.Request.Context(), actor, body.input())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, r)
}

func (h *Handler) UpdateReport(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	var body reportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("schedule.UpdateReport", body); err != nil {
		response.FromError(c, err)
		return
	}

	r, err := h.reports.Update(c.Request.Context(), actor, id, body.input())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *Handler) DeleteReport(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	if err := h.reports.Delete(c.Request.Context(), actor, id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "deleted"})
}

// TestSend godoc
// @Summary Send a report now
// @Description Builds and delivers the report immediately, marked as a test. The recurrence window is not consumed.
// @Tags Schedule
// @Security BearerAuth
// @Param id path int true "Report ID"
// @Success 200 {object} map[string]interface{}
// @Router /reports/{id}/test-send [post]
func (h *Handler) TestSend(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	p, err := h.reports.TestSend(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

// Tick runs one scheduler evaluation, for deployments driven by an
// external timer.
func (h *Handler) Tick(c *gin.Context) {
	if _, ok := middleware.MustActor(c); !ok {
		return
	}

	res, err := h.engine.TickOnce(c.Request.Context(), time.Now())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.POST("/work-plan", h.Plan)

	reports := protected.Group("/reports", middleware.AdminOnly())
	{
		reports.GET("", h.ListReports)
		reports.POST("", h.CreateReport)
		reports.POST("/tick", h.Tick)
		reports.GET("/:id", h.GetReport)
		reports.PUT("/:id", h.UpdateReport)
		reports.DELETE("/:id", h.DeleteReport)
		reports.POST("/:id/test-send", h.TestSend)
	}
}
