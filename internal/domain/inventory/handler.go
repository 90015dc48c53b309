package inventory

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
	"posmdesk/internal/pkg/validator"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type ensureRowBody struct {
	DepotID  int64  `json:"depot_id" validate:"required,gt=0"`
	PosmType string `json:"posm_type" validate:"required,max=100"`
}

func (h *Handler) ListByDepot(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	depotID, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	rows, err := h.ledger.ListByDepot(c.Request.Context(), actor, depotID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": rows})
}

func (h *Handler) Read(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}
	depotID, ok := response.ParamID(c, "id")
	if !ok {
		return
	}

	snap, err := h.ledger.Read(c.Request.Context(), actor, depotID, strings.TrimSpace(c.Param("posm_type")))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// EnsureRow godoc
// @Summary Register a POSM type at a depot
// @Description Creates a zero stock row when absent; returns the existing row otherwise.
// @Tags Inventory
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /inventory/rows [post]
func (h *Handler) EnsureRow(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var body ensureRowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("inventory.EnsureRow", body); err != nil {
		response.FromError(c, err)
		return
	}

	snap, err := h.ledger.EnsureRow(c.Request.Context(), actor, body.DepotID, body.PosmType)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Adjust godoc
// @Summary Adjust a stock counter
// @Description Applies a signed delta to the ready or repair_pending bucket. Counters never go negative.
// @Tags Inventory
// @Security BearerAuth
// @Param request body AdjustInput true "Adjustment"
// @Success 200 {object} map[string]interface{}
// @Failure 400,403,404,409 {object} map[string]interface{}
// @Router /inventory/adjust [post]
func (h *Handler) Adjust(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	var in AdjustInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadBody(c)
		return
	}
	if err := validator.Check("inventory.Adjust", in); err != nil {
		response.FromError(c, err)
		return
	}

	snap, err := h.ledger.Adjust(c.Request.Context(), actor, in)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.GET("/depots/:id/inventory", h.ListByDepot)
	protected.GET("/depots/:id/inventory/:posm_type", h.Read)

	inventory := protected.Group("/inventory")
	{
		inventory.POST("/rows", h.EnsureRow)
		inventory.POST("/adjust", h.Adjust)
	}
}
