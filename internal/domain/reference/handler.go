package reference

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/response"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) ListDepots(c *gin.Context) {
	if _, ok := middleware.MustActor(c); !ok {
		return
	}

	depots, err := h.repo.ListDepots(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": depots})
}

// SearchDealers godoc
// @Summary Search dealers by code or name
// @Description Technicians only see dealers served by their depots.
// @Tags Reference
// @Security BearerAuth
// @Param q query string false "Code or name fragment"
// @Param depot_id query string false "Comma separated depot ids"
// @Param limit query int false "Max results (default 20)"
// @Success 200 {object} map[string]interface{}
// @Router /dealers [get]
func (h *Handler) SearchDealers(c *gin.Context) {
	actor, ok := middleware.MustActor(c)
	if !ok {
		return
	}

	depotIDs, err := response.QueryInt64s(c, "depot_id")
	if err != nil {
		response.BadQuery(c, err)
		return
	}
	limit, err := response.QueryInt(c, "limit", 20)
	if err != nil {
		response.BadQuery(c, err)
		return
	}
	if actor.Role == access.RoleTech {
		depotIDs = restrict(depotIDs, actor.DepotIDs)
		if len(depotIDs) == 0 {
			response.Success(c, http.StatusOK, gin.H{"items": []Dealer{}})
			return
		}
	}

	dealers, err := h.repo.SearchDealers(c.Request.Context(), c.Query("q"), depotIDs, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": dealers})
}

// restrict narrows requested depots to the allowed set; no request means all
// allowed depots.
func restrict(requested, allowed []int64) []int64 {
	if len(requested) == 0 {
		return allowed
	}
	out := make([]int64, 0, len(requested))
	for _, id := range requested {
		for _, a := range allowed {
			if id == a {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	protected.GET("/depots", h.ListDepots)
	protected.GET("/dealers", h.SearchDealers)
}
