package transfer

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
	"posmdesk/internal/pkg/validator"
)

type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Create godoc
// @Summary Transfer POSM between depots
// @Description Debits the source depot and credits the destination in one transaction. Admin only.
// @Tags Transfers
// @Security BearerAuth
// @Param request body Input true "Transfer"
// @Success 201 {object} map[string]interface{}
// @Failure 400,403,404,409 {object} map[string]interface{}
// @Router /transfers [post]
func (h *Handler) Create(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("transfer.Transfer", in); err != nil {
		response.FromError(c, err)
		return
	}

	res, err := h.coordinator.Transfer(c.Request.Context(), actor, in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

func (h *Handler) List(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var f Filter
	depots, err := response.QueryInt64s(c, "depot_id")
	if err != nil {
		response.BadQuery(c, err)
		return
	}
	if len(depots) > 0 {
		f.DepotID = depots[0]
	}
	f.PosmType = strings.TrimSpace(c.Query("posm_type"))
	if f.From, err = response.QueryDate(c, "from"); err != nil {
		response.BadQuery(c, err)
		return
	}
	if f.To, err = response.QueryDate(c, "to"); err != nil {
		response.BadQuery(c, err)
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

	page, err := h.coordinator.ListTransfers(c.Request.Context(), actor, f)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, page)
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	transfers := protected.Group("/transfers")
	{
		transfers.POST("", h.Create)
		transfers.GET("", h.List)
	}
}
