package request

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/response"
	"posmdesk/internal/pkg/validator"
)

// PhotoChecker confirms that a photo reference was stored by the upload
// endpoint before a request points at it.
type PhotoChecker interface {
	Exists(ref string) (bool, error)
}

type Handler struct {
	service *Service
	photos  PhotoChecker
}

func NewHandler(service *Service, photos PhotoChecker) *Handler {
	return &Handler{service: service, photos: photos}
}

// Create godoc
// @Summary Open a field-service request
// @Description Opens a Pending request for a dealer. At least one photo reference is required.
// @Tags Requests
// @Security BearerAuth
// @Param request body CreateRequestBody true "Request"
// @Success 201 {object} map[string]interface{}
// @Failure 400,403,404 {object} map[string]interface{}
// @Router /requests [post]
func (h *Handler) Create(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := h.checkPhotos(body.Photos); err != nil {
		response.FromError(c, err)
		return
	}

	in := CreateInput{
		DealerID:    body.DealerID,
		DealerCode:  body.DealerCode,
		TerritoryID: body.TerritoryID,
		JobType:     JobType(body.JobType),
		JobDetail:   body.JobDetail,
		PosmType:    body.PosmType,
		CurrentPosm: body.CurrentPosm,
		Priority:    Priority(body.Priority),
		Photos:      body.Photos,
	}
	if body.RequestedDate != "" {
		d, err := ParseDate(body.RequestedDate)
		if err != nil {
			response.CustomError(c, http.StatusBadRequest, "VALIDATION_ERROR", "requested_date must be YYYY-MM-DD")
			return
		}
		in.RequestedDate = d
	}

	r, err := h.service.Create(c.Request.Context(), actor, in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, r)
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Security BearerAuth
// @Param status query string false "Comma separated statuses"
// @Param depot_id query string false "Comma separated depot ids"
// @Param dealer_id query int false "Dealer"
// @Param job_type query string false "Comma separated job types"
// @Param from query string false "Requested from (YYYY-MM-DD)"
// @Param to query string false "Requested to (YYYY-MM-DD)"
// @Param mine query bool false "Only requests I created"
// @Success 200 {object} map[string]interface{}
// @Router /requests [get]
func (h *Handler) List(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	q, err := parseQuery(c, actor.UserID)
	if err != nil {
		response.BadQuery(c, err)
		return
	}

	page, err := h.service.List(c.Request.Context(), actor, q)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, page)
}

func (h *Handler) Stats(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	q, err := parseQuery(c, actor.UserID)
	if err != nil {
		response.BadQuery(c, err)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), actor, q)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"by_status": stats})
}

func (h *Handler) Get(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	r, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// UpdateStatus godoc
// @Summary Move a request through its lifecycle
// @Description Pending to Scheduled needs planned_date; Scheduled to Completed needs completed_date and at least one photo.
// @Tags Requests
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body StatusBody true "Transition"
// @Success 200 {object} map[string]interface{}
// @Failure 400,403,404,409,422 {object} map[string]interface{}
// @Router /requests/{id}/status [patch]
func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	var body StatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	fields := StatusFields{
		CompletionNotes: body.CompletionNotes,
		Photos:          body.Photos,
		Revision:        body.Revision,
	}
	var err error
	if fields.PlannedDate, err = optionalDate("planned_date", body.PlannedDate); err != nil {
		response.FromError(c, err)
		return
	}
	if fields.CompletedDate, err = optionalDate("completed_date", body.CompletedDate); err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.checkPhotos(body.Photos); err != nil {
		response.FromError(c, err)
		return
	}

	r, err := h.service.UpdateStatus(c.Request.Context(), actor, id, Status(body.Status), fields)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *Handler) AppendPhotos(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	var body PhotosBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := h.checkPhotos(body.Photos); err != nil {
		response.FromError(c, err)
		return
	}

	r, err := h.service.AppendPhotos(c.Request.Context(), actor, id, body.Photos, body.Revision)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *Handler) SetPriority(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	var body PriorityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}

	r, err := h.service.SetPriority(c.Request.Context(), actor, id, Priority(body.Priority), body.Revision)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *Handler) SetJobDetail(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	id, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	var body DetailBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}

	r, err := h.service.SetJobDetail(c.Request.Context(), actor, id, body.JobDetail, body.Revision)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

// Import godoc
// @Summary Import legacy requests
// @Description Rows arrive already parsed. Each row is created independently; failures are itemized.
// @Tags Requests
// @Security BearerAuth
// @Param request body ImportBody true "Rows"
// @Success 200 {object} map[string]interface{}
// @Router /requests/import [post]
func (h *Handler) Import(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var body ImportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}

	rows := make([]ImportRow, 0, len(body.Rows))
	positions := make([]int, 0, len(body.Rows))
	var rejected []ImportFailure
	for i, b := range body.Rows {
		row, err := importRow(b)
		if err != nil {
			rejected = append(rejected, ImportFailure{Row: i + 1, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
		positions = append(positions, i+1)
	}

	res, err := h.service.Import(c.Request.Context(), actor, rows)
	if err != nil {
		response.FromError(c, err)
		return
	}
	// Service failures are numbered within rows; report body positions.
	for i := range res.Failures {
		res.Failures[i].Row = positions[res.Failures[i].Row-1]
	}
	res.Failures = append(res.Failures, rejected...)
	slices.SortFunc(res.Failures, func(a, b ImportFailure) int { return a.Row - b.Row })
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) checkPhotos(refs []string) error {
	if h.photos == nil {
		return nil
	}
	for _, ref := range refs {
		ok, err := h.photos.Exists(ref)
		if err != nil || !ok {
			return apperr.Validation("request.photos", "unknown photo reference %q", ref)
		}
	}
	return nil
}

func parseQuery(c *gin.Context, userID int64) (Query, error) {
	var q Query
	var err error
	if q.DepotIDs, err = response.QueryInt64s(c, "depot_id"); err != nil {
		return q, err
	}
	dealers, err := response.QueryInt64s(c, "dealer_id")
	if err != nil {
		return q, err
	}
	if len(dealers) > 0 {
		q.DealerID = dealers[0]
	}
	for _, s := range response.QueryList(c, "status") {
		st, ok := ParseStatus(s)
		if !ok {
			return q, fmt.Errorf("unknown status %q", s)
		}
		q.Statuses = append(q.Statuses, st)
	}
	for _, s := range response.QueryList(c, "job_type") {
		j, ok := ParseJobType(s)
		if !ok {
			return q, fmt.Errorf("unknown job_type %q", s)
		}
		q.JobTypes = append(q.JobTypes, j)
	}
	if q.From, err = response.QueryDate(c, "from"); err != nil {
		return q, err
	}
	if q.To, err = response.QueryDate(c, "to"); err != nil {
		return q, err
	}
	if q.Limit, err = response.QueryInt(c, "limit", 0); err != nil {
		return q, err
	}
	if q.Offset, err = response.QueryInt(c, "offset", 0); err != nil {
		return q, err
	}
	if strings.EqualFold(c.Query("mine"), "true") {
		q.OwnerID = userID
	}
	return q, nil
}

func optionalDate(field, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, apperr.Validation("request.UpdateStatus", "%s must be YYYY-MM-DD", field)
	}
	return &d, nil
}

func importRow(b ImportRowBody) (ImportRow, error) {
	if err := validator.Check("request.Import", b); err != nil {
		return ImportRow{}, err
	}
	row := ImportRow{
		DealerCode:      b.DealerCode,
		JobType:         JobType(b.JobType),
		JobDetail:       b.JobDetail,
		PosmType:        b.PosmType,
		CurrentPosm:     b.CurrentPosm,
		Priority:        Priority(b.Priority),
		Status:          Status(b.Status),
		CompletionNotes: b.CompletionNotes,
		Photos:          b.Photos,
	}
	row.RequestedDate, _ = ParseDate(b.RequestedDate)
	row.PlannedDate, _ = optionalDate("planned_date", b.PlannedDate)
	row.CompletedDate, _ = optionalDate("completed_date", b.CompletedDate)
	return row, nil
}
